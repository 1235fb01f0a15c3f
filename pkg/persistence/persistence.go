// Package persistence provides the storage abstraction for workflows, executions and
// the platform records that actions read and write.
package persistence

import (
	"context"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	UserRepository() UserRepository
	DealRepository() DealRepository
	EmailTemplateRepository() EmailTemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
	// ListActiveByTrigger returns active workflows declaring triggerType.
	ListActiveByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error)
}

type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)

	// Checkpoint stores the progress of a running execution. It fails with
	// ErrExecutionNotRunning when the stored record is no longer running.
	Checkpoint(ctx context.Context, execution *models.Execution) error

	// Finish stores a terminal execution and updates the owning workflow's
	// counters in the same write. Like Checkpoint it only applies to running records.
	Finish(ctx context.Context, execution *models.Execution) error

	// MarkCancelled moves a running execution to cancelled at the given time and appends entry
	// to its log. Only status, completed_at, total_duration and logs change, so progress a
	// concurrent Checkpoint stored is kept. Counters are updated as in Finish and the stored
	// record is returned.
	MarkCancelled(ctx context.Context, id string, at time.Time, entry models.LogEntry) (*models.Execution, error)
}

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}

type DealRepository interface {
	FindByID(ctx context.Context, id string) (*models.Deal, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Save(ctx context.Context, deal *models.Deal) error
}

type EmailTemplateRepository interface {
	FindByID(ctx context.Context, id string) (*models.EmailTemplate, error)
	Save(ctx context.Context, tmpl *models.EmailTemplate) error
}

// ApplyCancellation is the in-memory form of MarkCancelled.
func ApplyCancellation(execution *models.Execution, at time.Time, entry models.LogEntry) {
	duration := at.Sub(execution.StartedAt).Seconds()

	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &at
	execution.TotalDuration = &duration
	execution.Logs = append(execution.Logs, entry)
}

// ApplyCounters updates workflow aggregates for one terminal execution.
// Cancelled runs count towards the total only.
func ApplyCounters(workflow *models.Workflow, execution *models.Execution) {
	workflow.TotalExecutions++

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		workflow.SuccessfulExecutions++
	case models.ExecutionStatusFailed:
		workflow.FailedExecutions++
	}

	if execution.CompletedAt != nil {
		at := *execution.CompletedAt
		workflow.LastExecutedAt = &at
	}
}
