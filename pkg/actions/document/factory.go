package document

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
	return "Create Document"
}

func (f *ActionFactory) Description() string {
	return "Requests a generated document such as a subscription agreement or payout statement."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"document_type": map[string]any{
				"type":     "string",
				"examples": []string{"subscription_agreement", "payout_statement", "ownership_certificate"},
			},
			"title":    map[string]any{"type": "string"},
			"owner_id": map[string]any{"type": "string"},
			"data":     map[string]any{"type": "object"},
		},
		"required": []string{"document_type"},
	}
}
