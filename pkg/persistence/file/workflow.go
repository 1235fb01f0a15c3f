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

const workflowsDir = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *store
}

// GetAll returns every stored workflow ordered by creation time.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	workflows, err := list[models.Workflow](wr.store, workflowsDir)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID < workflows[j].ID
		}

		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return wr.get(workflowID)
}

func (wr *WorkflowRepository) get(workflowID string) (*models.Workflow, error) {
	workflow, err := read[models.Workflow](wr.store, workflowsDir, workflowID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	return workflow, nil
}

// Save creates or replaces a workflow definition.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	// counters belong to the engine; redefining a workflow keeps them
	if existing, err := wr.get(workflow.ID); err == nil {
		workflow.TotalExecutions = existing.TotalExecutions
		workflow.SuccessfulExecutions = existing.SuccessfulExecutions
		workflow.FailedExecutions = existing.FailedExecutions
		workflow.LastExecutedAt = existing.LastExecutedAt
		workflow.CreatedAt = existing.CreatedAt
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if err := write(wr.store, workflowsDir, workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow by its ID. Deleting a missing workflow is not an error.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	if err := remove(wr.store, workflowsDir, id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (wr *WorkflowRepository) ListActiveByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	all, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	matching := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if workflow.IsActive() && workflow.TriggerType == triggerType {
			matching = append(matching, workflow)
		}
	}

	return matching, nil
}
