package delay

import (
	"context"

	"github.com/fractal-assets/flowengine/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) ID() string {
	return ActionType
}

func (*ActionFactory) Name() string {
	return "Delay"
}

func (*ActionFactory) Description() string {
	return "Pauses the execution for a number of seconds. The wait counts against the workflow timeout."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        []string{"number", "string"},
				"description": "Seconds to wait",
				"examples":    []any{5, "{{cooling_off_seconds}}"},
			},
		},
		"required": []string{"duration"},
	}
}
