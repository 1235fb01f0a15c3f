package file

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository stores one JSON document per execution.
type ExecutionRepository struct {
	store     *store
	workflows *WorkflowRepository
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if _, err := read[models.Execution](er.store, executionsDir, execution.ID); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if err := write(er.store, executionsDir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	return er.get("GetByID", id)
}

func (er *ExecutionRepository) get(op, id string) (*models.Execution, error) {
	execution, err := read[models.Execution](er.store, executionsDir, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError(op, id, err)
	}

	return execution, nil
}

// ListByWorkflow returns the workflow's executions, newest first.
func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	all, err := list[models.Execution](er.store, executionsDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Execution, 0)

	for _, execution := range all {
		if execution.WorkflowID == workflowID {
			out = append(out, execution)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	return out, nil
}

func (er *ExecutionRepository) Checkpoint(_ context.Context, execution *models.Execution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if err := er.ensureRunning("Checkpoint", execution.ID); err != nil {
		return err
	}

	if err := write(er.store, executionsDir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Checkpoint", execution.ID, err)
	}

	return nil
}

// Finish writes the terminal record and the workflow counters under one lock.
func (er *ExecutionRepository) Finish(_ context.Context, execution *models.Execution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if err := er.ensureRunning("Finish", execution.ID); err != nil {
		return err
	}

	workflow, err := er.workflows.get(execution.WorkflowID)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return persistence.NewExecutionError("Finish", execution.ID, err)
	}

	if err := write(er.store, executionsDir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Finish", execution.ID, err)
	}

	if workflow == nil {
		return nil
	}

	persistence.ApplyCounters(workflow, execution)

	if err := write(er.store, workflowsDir, workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Finish", workflow.ID, err)
	}

	return nil
}

// MarkCancelled applies the cancellation to the stored record, not to a caller's copy, so a
// checkpoint written just before is preserved.
func (er *ExecutionRepository) MarkCancelled(
	_ context.Context,
	id string,
	at time.Time,
	entry models.LogEntry,
) (*models.Execution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	execution, err := er.get("MarkCancelled", id)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusRunning {
		return nil, persistence.NewExecutionError("MarkCancelled", id, persistence.ErrExecutionNotRunning)
	}

	workflow, err := er.workflows.get(execution.WorkflowID)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return nil, persistence.NewExecutionError("MarkCancelled", id, err)
	}

	persistence.ApplyCancellation(execution, at, entry)

	if err := write(er.store, executionsDir, id, execution); err != nil {
		return nil, persistence.NewExecutionError("MarkCancelled", id, err)
	}

	if workflow == nil {
		return execution, nil
	}

	persistence.ApplyCounters(workflow, execution)

	if err := write(er.store, workflowsDir, workflow.ID, workflow); err != nil {
		return nil, persistence.NewWorkflowError("MarkCancelled", workflow.ID, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ensureRunning(op, id string) error {
	stored, err := er.get(op, id)
	if err != nil {
		return err
	}

	if stored.Status != models.ExecutionStatusRunning {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotRunning)
	}

	return nil
}
