// Package workflow runs workflow executions: step traversal, the supervisor that starts, retries
// and cancels runs, and the listener that turns platform events into runs.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fractal-assets/flowengine/pkg/conditions"
	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/otelhelper"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/fractal-assets/flowengine/pkg/registry"
	"github.com/fractal-assets/flowengine/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the number of steps a single execution may run.
const DefaultMaxSteps = 1000

// StepsScopeKey exposes prior step results to templates and conditions as steps.<step_id>.<field>.
const StepsScopeKey = "steps"

// TriggerDataScopeKey exposes the raw trigger payload as trigger_data.<field>.
const TriggerDataScopeKey = "trigger_data"

type Engine struct {
	executions persistence.ExecutionRepository
	registry   *registry.Registry
	evaluator  *conditions.Evaluator
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
	maxSteps   int
}

type EngineOption func(*Engine)

// WithClock replaces time.Now for elapsed-time checks and timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithPublisher enables execution lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) EngineOption {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func NewEngine(
	executions persistence.ExecutionRepository,
	registry *registry.Registry,
	evaluator *conditions.Evaluator,
	logger *slog.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		executions: executions,
		registry:   registry,
		evaluator:  evaluator,
		tracer:     otelhelper.NoopTracer(),
		logger:     logger.With("module", "workflow_engine"),
		now:        time.Now,
		maxSteps:   DefaultMaxSteps,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run traverses the workflow graph for a running execution until it reaches a terminal state,
// persisting a checkpoint after each step and the terminal record at the end. The caller's
// goroutine owns execution for the duration of the call.
func (e *Engine) Run(ctx context.Context, workflow *models.Workflow, execution *models.Execution) {
	logger := e.logger.With("execution_id", execution.ID, "workflow_id", workflow.ID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.TriggerTypeKey, string(workflow.TriggerType)),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	// The workflow timeout is enforced between steps only; ctx ends solely on cancel or shutdown,
	// so an action already running is never cut short by the budget.
	timeout := workflow.EffectiveTimeout()

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID, execution.ID),
		WorkflowName:  workflow.Name,
		TriggerType:   string(workflow.TriggerType),
		TriggerData:   execution.TriggerData,
		TriggerUserID: derefString(execution.TriggerUserID),
		RetryOf:       execution.RetryOf,
	})

	logger.InfoContext(ctx, "Starting workflow execution", "timeout", timeout)

	runErr := e.traverse(ctx, workflow, execution, timeout, logger)

	if errors.Is(runErr, ErrExecutionCancelled) || errors.Is(runErr, persistence.ErrExecutionNotRunning) {
		// The record was finished elsewhere (Cancel); it must not be overwritten.
		logger.InfoContext(ctx, "Execution stopped after external termination", "error", runErr)
		span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(models.ExecutionStatusCancelled)))

		return
	}

	if runErr != nil {
		otelhelper.SetError(span, runErr)
	}

	e.finish(ctx, workflow, execution, runErr, logger)
	span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(execution.Status)))
}

func (e *Engine) traverse(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	timeout time.Duration,
	logger *slog.Logger,
) error {
	if execution.StepResults == nil {
		execution.StepResults = map[string]any{}
	}

	currentStepID := execution.StartStepID
	if currentStepID == "" {
		currentStepID = workflow.FirstStepID()
	}

	for steps := 0; currentStepID != ""; steps++ {
		execution.CurrentStepID = currentStepID

		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			if errors.Is(cause, ErrExecutionCancelled) {
				return cause
			}

			return &StepError{StepID: currentStepID, Err: cause}
		}

		// Fail closed: reaching the timeout exactly counts as timed out.
		if elapsed := e.now().Sub(execution.StartedAt); elapsed >= timeout {
			return &StepError{
				StepID: currentStepID,
				Err:    fmt.Errorf("%w: %s elapsed, limit %s", ErrWorkflowTimeout, elapsed.Round(time.Millisecond), timeout),
			}
		}

		if steps >= e.maxSteps {
			return &StepError{StepID: currentStepID, Err: fmt.Errorf("%w: %d", ErrStepLimitExceeded, e.maxSteps)}
		}

		step, ok := workflow.StepByID(currentStepID)
		if !ok {
			return &StepError{StepID: currentStepID, Err: ErrStepNotFound}
		}

		next, err := e.runStep(ctx, workflow, execution, step, logger.With("step_id", step.ID))
		if err != nil {
			return err
		}

		execution.CompletedSteps = append(execution.CompletedSteps, step.ID)

		if err := e.executions.Checkpoint(context.WithoutCancel(ctx), execution); err != nil {
			if errors.Is(err, persistence.ErrExecutionNotRunning) {
				return err
			}

			return &StepError{StepID: step.ID, Action: step.Action, Err: fmt.Errorf("checkpoint failed: %w", err)}
		}

		currentStepID = next
	}

	return nil
}

func (e *Engine) runStep(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	step *models.Step,
	logger *slog.Logger,
) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.String(otelhelper.ActionTypeKey, step.Action),
	)
	defer span.End()

	scope := Scope(execution)

	switch step.Type {
	case models.StepTypeCondition:
		met := e.evaluator.Evaluate(ctx, step.Condition, scope)
		execution.StepResults[step.ID] = map[string]any{"conditionMet": met}
		execution.AppendLog(e.now(), models.LogLevelInfo,
			fmt.Sprintf("Condition %q evaluated to %t", step.ID, met), nil)

		logger.DebugContext(ctx, "Condition evaluated", "condition", step.Condition, "result", met)

		if met {
			return step.IfTrue, nil
		}

		return step.IfFalse, nil

	case models.StepTypeAction:
		logger.DebugContext(ctx, "Executing action", "action", step.Action)

		config := template.ResolveMap(step.Config, scope)

		action, err := e.registry.CreateAction(ctx, step.Action, config)
		if err != nil {
			otelhelper.SetError(span, err)

			return "", &StepError{StepID: step.ID, Action: step.Action, Err: err}
		}

		result, err := action.Execute(ctx, protocol.ActionInput{
			ExecutionID: execution.ID,
			WorkflowID:  workflow.ID,
			StepID:      step.ID,
			Context:     scope,
			Log:         &executionLog{execution: execution, now: e.now},
			Logger:      logger,
		})
		if err != nil {
			otelhelper.SetError(span, err)

			if ctx.Err() != nil {
				cause := context.Cause(ctx)
				if errors.Is(cause, ErrExecutionCancelled) {
					return "", cause
				}

				if !errors.Is(err, cause) {
					err = fmt.Errorf("%w: %w", cause, err)
				}
			}

			return "", &StepError{StepID: step.ID, Action: step.Action, Err: err}
		}

		if result == nil {
			result = map[string]any{}
		}

		execution.StepResults[step.ID] = result

		return step.NextStep, nil

	default:
		return "", &StepError{StepID: step.ID, Err: fmt.Errorf("unsupported step type %q", step.Type)}
	}
}

func (e *Engine) finish(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	runErr error,
	logger *slog.Logger,
) {
	now := e.now()
	duration := now.Sub(execution.StartedAt).Seconds()

	execution.TotalDuration = &duration
	execution.CompletedAt = &now

	if runErr == nil {
		execution.Status = models.ExecutionStatusCompleted
		execution.AppendLog(now, models.LogLevelInfo, fmt.Sprintf("Workflow completed in %.3fs", duration), nil)
	} else {
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = runErr.Error()
		execution.ErrorDetails = ErrorDetails(runErr)
		execution.AppendLog(now, models.LogLevelError, "Workflow failed", runErr)
	}

	if err := e.executions.Finish(context.WithoutCancel(ctx), execution); err != nil {
		if errors.Is(err, persistence.ErrExecutionNotRunning) {
			logger.WarnContext(ctx, "Execution was terminated concurrently, result discarded", "status", execution.Status)

			return
		}

		logger.ErrorContext(ctx, "Failed to persist terminal execution state", "error", err)

		return
	}

	if runErr != nil {
		logger.WarnContext(ctx, "Workflow execution failed", "error", runErr, "duration", duration)

		var stepID string

		var stepErr *StepError
		if errors.As(runErr, &stepErr) {
			stepID = stepErr.StepID
		}

		e.publish(ctx, execution.ID, events.ExecutionFailed{
			BaseEvent:       events.NewBaseEvent(events.ExecutionFailedEvent, workflow.ID, execution.ID),
			DurationSeconds: duration,
			StepID:          stepID,
			Error:           runErr.Error(),
			Details:         execution.ErrorDetails,
			CompletedSteps:  execution.CompletedSteps,
		})

		return
	}

	logger.InfoContext(ctx, "Workflow execution completed", "duration", duration, "steps", len(execution.CompletedSteps))

	e.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:       events.NewBaseEvent(events.ExecutionCompletedEvent, workflow.ID, execution.ID),
		DurationSeconds: duration,
		CompletedSteps:  execution.CompletedSteps,
	})
}

func (e *Engine) publish(ctx context.Context, key string, event events.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish execution event", "event_type", event.GetType(), "error", err)
	}
}

// Scope is the data templates and conditions resolve against: the execution context plus the
// trigger payload under trigger_data and prior step results under steps.
func Scope(execution *models.Execution) map[string]any {
	scope := make(map[string]any, len(execution.Context)+2)

	for key, value := range execution.Context {
		scope[key] = value
	}

	scope[TriggerDataScopeKey] = execution.TriggerData

	steps := make(map[string]any, len(execution.StepResults))
	for id, result := range execution.StepResults {
		steps[id] = result
	}

	scope[StepsScopeKey] = steps

	return scope
}

// executionLog appends action log lines to the running execution.
type executionLog struct {
	execution *models.Execution
	now       func() time.Time
}

func (l *executionLog) Log(level models.LogLevel, message string, err error) {
	l.execution.AppendLog(l.now(), level, message, err)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
