package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/template"
	"github.com/spf13/cast"
)

// Triggerer starts executions; Supervisor implements it.
type Triggerer interface {
	Trigger(
		ctx context.Context,
		workflow *models.Workflow,
		userID *string,
		triggerData map[string]any,
		initialContext map[string]any,
	) (*models.Execution, error)
}

// Listener routes platform events to the active workflows whose trigger matches them.
type Listener struct {
	workflows persistence.WorkflowRepository
	triggerer Triggerer
	logger    *slog.Logger
}

func NewListener(workflows persistence.WorkflowRepository, triggerer Triggerer, logger *slog.Logger) *Listener {
	return &Listener{
		workflows: workflows,
		triggerer: triggerer,
		logger:    logger.With("module", "auto_trigger_listener"),
	}
}

// OnEvent triggers every active workflow of eventType whose trigger_config matches payload and
// returns the started executions. A failure for one workflow is logged and does not stop the
// others; only failing to load the candidates is returned as an error.
func (l *Listener) OnEvent(ctx context.Context, eventType string, payload map[string]any) ([]*models.Execution, error) {
	logger := l.logger.With("event_type", eventType)

	candidates, err := l.workflows.ListActiveByTrigger(ctx, models.TriggerType(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows for %s: %w", eventType, err)
	}

	userID := payloadUserID(payload)

	var started []*models.Execution

	for _, wf := range candidates {
		if !MatchesTriggerConfig(wf.TriggerConfig, payload) {
			logger.DebugContext(ctx, "Workflow trigger config does not match", "workflow_id", wf.ID)

			continue
		}

		execution, err := l.triggerer.Trigger(ctx, wf, userID, payload, nil)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to trigger workflow", "workflow_id", wf.ID, "error", err)

			continue
		}

		started = append(started, execution)
	}

	logger.InfoContext(ctx, "Event processed", "candidates", len(candidates), "triggered", len(started))

	return started, nil
}

// Handle adapts OnEvent to protocol.TriggerCallback for the event bus and the scheduler.
func (l *Listener) Handle(ctx context.Context, eventType string, payload map[string]any) error {
	_, err := l.OnEvent(ctx, eventType, payload)

	return err
}

// MatchesTriggerConfig reports whether every key of config, read as a dot path into payload,
// holds exactly the configured value. An empty config matches every payload.
func MatchesTriggerConfig(config map[string]any, payload map[string]any) bool {
	for path, expected := range config {
		actual, ok := template.Lookup(payload, path)
		if !ok || !valuesEqual(expected, actual) {
			return false
		}
	}

	return true
}

// valuesEqual is exact equality, except that numbers compare by value so a JSON 5000 equals an
// int 5000.
func valuesEqual(expected, actual any) bool {
	if isNumber(expected) && isNumber(actual) {
		return cast.ToFloat64(expected) == cast.ToFloat64(actual)
	}

	return reflect.DeepEqual(expected, actual)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

// payloadUserID renders payload.user_id as text. Absent, null, empty or non-scalar ids mean
// the run has no triggering user.
func payloadUserID(payload map[string]any) *string {
	userID, err := cast.ToStringE(payload["user_id"])
	if err != nil || userID == "" {
		return nil
	}

	return &userID
}
