// Package sendemail renders a stored email template for a platform user and hands it to the mail
// sender through the event bus.
package sendemail

import (
	"context"
	"errors"
	"fmt"

	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/fractal-assets/flowengine/pkg/template"
	"github.com/spf13/cast"
)

const ActionType = "send_email"

var (
	ErrTemplateNotFound = persistence.ErrEmailTemplateNotFound
	ErrUserNotFound     = persistence.ErrUserNotFound

	ErrMissingField = errors.New("missing required field")
)

type Action struct {
	TemplateID string
	To         string
	Variables  map[string]any

	templates persistence.EmailTemplateRepository
	users     persistence.UserRepository
	sender    eventbus.EventPublisher
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	tmpl, err := a.templates.FindByID(ctx, a.TemplateID)
	if err != nil {
		return nil, err
	}

	user, err := a.users.FindByEmail(ctx, a.To)
	if err != nil {
		return nil, err
	}

	scope := make(map[string]any, len(input.Context)+2)
	scope["variables"] = a.Variables

	for key, value := range input.Context {
		scope[key] = value
	}

	scope["user"] = user.AsMap()

	request := events.EmailRequested{
		BaseEvent:      events.NewBaseEvent(events.EmailRequestedEvent, input.WorkflowID, input.ExecutionID),
		IdempotencyKey: input.IdempotencyKey(),
		TemplateID:     tmpl.ID,
		To:             user.Email,
		Subject:        template.ResolveString(tmpl.Subject, scope),
		HTMLBody:       template.ResolveString(tmpl.HTMLBody, scope),
		TextBody:       template.ResolveString(tmpl.TextBody, scope),
	}

	if err := a.sender.Publish(ctx, request.IdempotencyKey, request); err != nil {
		return nil, fmt.Errorf("failed to hand email to sender: %w", err)
	}

	input.Log.Log(models.LogLevelInfo, fmt.Sprintf("Email %q sent to %s", tmpl.Name, user.Email), nil)

	return map[string]any{
		"action":      ActionType,
		"template_id": tmpl.ID,
		"to":          user.Email,
		"subject":     request.Subject,
	}, nil
}

func parseVariables(raw any) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}

	variables, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid variables: %w", err)
	}

	return variables, nil
}
