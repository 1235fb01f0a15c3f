package notification

import (
	"context"

	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/protocol"
)

type ActionFactory struct {
	publisher eventbus.EventPublisher
}

func NewActionFactory(publisher eventbus.EventPublisher) *ActionFactory {
	return &ActionFactory{publisher: publisher}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.publisher)
}

func (f *ActionFactory) ID() string {
	return ActionType
}

func (f *ActionFactory) Name() string {
	return "Send Notification"
}

func (f *ActionFactory) Description() string {
	return "Queues a notification for a user. Delivery is handled by the notification service."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": map[string]any{"type": "string", "examples": []string{"{{user_id}}"}},
			"title":   map[string]any{"type": "string"},
			"message": map[string]any{"type": "string"},
			"channel": map[string]any{
				"type":    "string",
				"default": DefaultChannel,
				"enum":    []string{"in_app", "push", "sms"},
			},
			"data": map[string]any{"type": "object"},
		},
		"required": []string{"user_id", "message"},
	}
}
