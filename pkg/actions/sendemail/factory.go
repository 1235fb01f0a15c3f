package sendemail

import (
	"context"
	"fmt"
	"strings"

	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/spf13/cast"
)

type ActionFactory struct {
	templates persistence.EmailTemplateRepository
	users     persistence.UserRepository
	sender    eventbus.EventPublisher
}

func NewActionFactory(
	templates persistence.EmailTemplateRepository,
	users persistence.UserRepository,
	sender eventbus.EventPublisher,
) *ActionFactory {
	return &ActionFactory{templates: templates, users: users, sender: sender}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	templateID := strings.TrimSpace(cast.ToString(config["template_id"]))
	if templateID == "" {
		return nil, fmt.Errorf("%w: template_id", ErrMissingField)
	}

	to := strings.TrimSpace(cast.ToString(config["to"]))
	if to == "" {
		return nil, fmt.Errorf("%w: to", ErrMissingField)
	}

	variables, err := parseVariables(config["variables"])
	if err != nil {
		return nil, err
	}

	return &Action{
		TemplateID: templateID,
		To:         to,
		Variables:  variables,
		templates:  f.templates,
		users:      f.users,
		sender:     f.sender,
	}, nil
}

func (f *ActionFactory) ID() string {
	return ActionType
}

func (f *ActionFactory) Name() string {
	return "Send Email"
}

func (f *ActionFactory) Description() string {
	return "Renders an email template for a registered user and queues it for delivery."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template_id": map[string]any{
				"type":        "string",
				"description": "Email template identifier",
			},
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient email. Must belong to a registered user.",
				"examples":    []string{"{{user.email}}"},
			},
			"variables": map[string]any{
				"type":        "object",
				"description": "Extra values available to the template as {{variables.<name>}}",
			},
		},
		"required": []string{"template_id", "to"},
	}
}
