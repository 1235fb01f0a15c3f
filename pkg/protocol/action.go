// Package protocol defines the contracts between the engine and pluggable components.
package protocol

import (
	"context"
	"log/slog"

	"github.com/fractal-assets/flowengine/pkg/models"
)

// LogSink appends a line to the running execution's log.
type LogSink interface {
	Log(level models.LogLevel, message string, err error)
}

// ActionInput is what a step hands to its action.
type ActionInput struct {
	ExecutionID string
	WorkflowID  string
	StepID      string

	// Context is the resolution scope of the step: the execution context plus
	// trigger data and prior step results.
	Context map[string]any

	Log    LogSink
	Logger *slog.Logger
}

// IdempotencyKey identifies one step of one execution for downstream deduplication.
func (in ActionInput) IdempotencyKey() string {
	return in.ExecutionID + ":" + in.StepID
}

type Action interface {
	Execute(ctx context.Context, input ActionInput) (map[string]any, error)
}

type ActionFactory interface {
	// Create builds an action from a step config whose placeholders are already resolved.
	Create(ctx context.Context, config map[string]any) (Action, error)
	ID() string
	Name() string
	Description() string
	Schema() map[string]any
}

// DiscardLog is a LogSink that drops every line.
type DiscardLog struct{}

func (DiscardLog) Log(models.LogLevel, string, error) {}
