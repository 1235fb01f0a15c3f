package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/google/uuid"
)

// RetryOptions selects how a failed execution is retried. The default replays every step from
// the first one; Resume restarts at the failed step with the earlier step results carried over.
type RetryOptions struct {
	Resume bool
}

// Supervisor starts executions in the background and tracks them so they can be cancelled and
// drained on shutdown.
type Supervisor struct {
	engine     *Engine
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	logger     *slog.Logger

	baseCtx context.Context
	stop    context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelCauseFunc
	wg      sync.WaitGroup
}

func NewSupervisor(
	engine *Engine,
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	logger *slog.Logger,
) *Supervisor {
	baseCtx, stop := context.WithCancelCause(context.Background())

	return &Supervisor{
		engine:     engine,
		workflows:  workflows,
		executions: executions,
		logger:     logger.With("module", "execution_supervisor"),
		baseCtx:    baseCtx,
		stop:       stop,
		running:    make(map[string]context.CancelCauseFunc),
	}
}

// Trigger creates a running execution and starts traversal in the background. It returns a
// snapshot of the new execution without waiting for the run; run failures are only visible on
// the execution record. triggerData is merged under initialContext to seed the context.
func (s *Supervisor) Trigger(
	ctx context.Context,
	workflow *models.Workflow,
	userID *string,
	triggerData map[string]any,
	initialContext map[string]any,
) (*models.Execution, error) {
	if !workflow.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotActive, workflow.ID)
	}

	if triggerData == nil {
		triggerData = map[string]any{}
	}

	seeded := models.CloneMap(triggerData)
	for key, value := range initialContext {
		seeded[key] = value
	}

	execution := s.newExecution(workflow, userID, models.CloneMap(triggerData), seeded)
	execution.AppendLog(execution.StartedAt, models.LogLevelInfo,
		fmt.Sprintf("Workflow %q triggered", workflow.Name), nil)

	return s.start(ctx, workflow, execution)
}

// Retry starts a new execution for a failed one, reusing its trigger data and context. The
// failed execution is not modified.
func (s *Supervisor) Retry(ctx context.Context, executionID string, opts RetryOptions) (*models.Execution, error) {
	failed, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if failed.Status != models.ExecutionStatusFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrExecutionNotFailed, failed.ID, failed.Status)
	}

	workflow, err := s.workflows.GetByID(ctx, failed.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotActive, workflow.ID)
	}

	var userID *string
	if failed.TriggerUserID != nil {
		id := *failed.TriggerUserID
		userID = &id
	}

	execution := s.newExecution(workflow, userID, models.CloneMap(failed.TriggerData), models.CloneMap(failed.Context))
	execution.RetryOf = failed.ID

	message := fmt.Sprintf("Retry of execution %s", failed.ID)

	if opts.Resume && failed.CurrentStepID != "" {
		execution.StartStepID = failed.CurrentStepID
		execution.StepResults = models.CloneMap(failed.StepResults)
		execution.CompletedSteps = append([]string(nil), failed.CompletedSteps...)
		message = fmt.Sprintf("Retry of execution %s resuming at step %s", failed.ID, failed.CurrentStepID)
	}

	execution.AppendLog(execution.StartedAt, models.LogLevelInfo, message, nil)

	return s.start(ctx, workflow, execution)
}

// Cancel marks a running execution cancelled and stops its traversal at the next suspension
// point. Executions that already reached a terminal state are rejected unchanged.
func (s *Supervisor) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrExecutionNotRunning, execution.ID, execution.Status)
	}

	now := s.engine.now()

	execution, err = s.executions.MarkCancelled(ctx, execution.ID, now, models.LogEntry{
		Timestamp: now,
		Level:     models.LogLevelWarn,
		Message:   "Execution cancelled",
	})
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotRunning) {
			return nil, fmt.Errorf("%w: %s finished before it could be cancelled", ErrExecutionNotRunning, executionID)
		}

		return nil, err
	}

	s.mu.Lock()
	cancel, inFlight := s.running[execution.ID]
	s.mu.Unlock()

	if inFlight {
		cancel(ErrExecutionCancelled)
	}

	s.logger.InfoContext(ctx, "Execution cancelled", "execution_id", execution.ID, "in_flight", inFlight)

	s.engine.publish(ctx, execution.ID, events.ExecutionCancelled{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID, execution.ID),
		CurrentStepID: execution.CurrentStepID,
	})

	return execution, nil
}

// InFlight reports how many executions this supervisor is currently running.
func (s *Supervisor) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.running)
}

// Shutdown rejects new runs and waits for in-flight ones. When ctx ends first the remaining runs
// are stopped with ErrShuttingDown, which fails them, and ctx's error is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stop(ErrShuttingDown)

		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Shutdown deadline reached, stopping executions", "in_flight", s.InFlight())
		s.stop(ErrShuttingDown)
		<-done

		return ctx.Err()
	}
}

func (s *Supervisor) newExecution(
	workflow *models.Workflow,
	userID *string,
	triggerData map[string]any,
	seeded map[string]any,
) *models.Execution {
	return &models.Execution{
		ID:             uuid.New().String(),
		WorkflowID:     workflow.ID,
		TriggerUserID:  userID,
		TriggerData:    triggerData,
		Context:        seeded,
		Status:         models.ExecutionStatusRunning,
		CompletedSteps: []string{},
		StepResults:    map[string]any{},
		Logs:           []models.LogEntry{},
		StartedAt:      s.engine.now(),
	}
}

func (s *Supervisor) start(ctx context.Context, workflow *models.Workflow, execution *models.Execution) (*models.Execution, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil, ErrShuttingDown
	}

	runCtx, cancel := context.WithCancelCause(s.baseCtx)
	s.running[execution.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.executions.Create(ctx, execution); err != nil {
		s.forget(execution.ID)
		cancel(nil)
		s.wg.Done()

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	snapshot := execution.Clone()

	s.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"retry_of", execution.RetryOf)

	go func() {
		defer s.wg.Done()
		defer s.forget(execution.ID)
		defer cancel(nil)

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Execution panicked", "execution_id", execution.ID, "panic", r)
				s.engine.finish(runCtx, workflow, execution, fmt.Errorf("panic: %v", r), s.logger)
			}
		}()

		s.engine.Run(runCtx, workflow, execution)
	}()

	return snapshot, nil
}

func (s *Supervisor) forget(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, executionID)
}

// Wait blocks until the execution leaves the running state or ctx ends. It polls the
// repository, so it also observes executions run by other processes.
func (s *Supervisor) Wait(ctx context.Context, executionID string, interval time.Duration) (*models.Execution, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		execution, err := s.executions.GetByID(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if execution.Status.IsTerminal() {
			return execution, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), fmt.Errorf("execution %s still %s", executionID, execution.Status))
		case <-ticker.C:
		}
	}
}
