package dealstatus

import (
	"context"

	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
)

type ActionFactory struct {
	deals persistence.DealRepository
}

func NewActionFactory(deals persistence.DealRepository) *ActionFactory {
	return &ActionFactory{deals: deals}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.deals)
}

func (f *ActionFactory) ID() string {
	return ActionType
}

func (f *ActionFactory) Name() string {
	return "Update Deal Status"
}

func (f *ActionFactory) Description() string {
	return "Sets the status of a deal and records the previous one in the step result."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"deal_id": map[string]any{
				"type":     "string",
				"examples": []string{"{{deal_id}}"},
			},
			"status": map[string]any{
				"type":     "string",
				"examples": []string{"funded", "active", "closed"},
			},
		},
		"required":             []string{"deal_id", "status"},
		"additionalProperties": false,
	}
}
