package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
)

const workflowColumns = `
			id
		  , COALESCE(owner_id, '')
		  , name
		  , description
		  , trigger_type
		  , trigger_config
		  , steps
		  , timeout
		  , max_retries
		  , status
		  , total_executions
		  , successful_executions
		  , failed_executions
		  , last_executed_at
		  , created_at
		  , updated_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db *sql.DB
}

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// GetAll returns all workflows from the database.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at, id`)
}

func (r *WorkflowRepository) ListActiveByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	return r.query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE trigger_type = $1 AND status = 'active'
		ORDER BY created_at, id
	`, string(triggerType))
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// Save upserts the workflow definition. Execution counters are owned by
// ExecutionRepository.Finish and are never overwritten here.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	triggerConfig, err := marshalJSON(workflow.TriggerConfig, "{}")
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	steps, err := marshalJSON(workflow.Steps, "[]")
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (
			id, owner_id, name, description, trigger_type, trigger_config, steps,
			timeout, max_retries, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id
		  , name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , trigger_type = EXCLUDED.trigger_type
		  , trigger_config = EXCLUDED.trigger_config
		  , steps = EXCLUDED.steps
		  , timeout = EXCLUDED.timeout
		  , max_retries = EXCLUDED.max_retries
		  , status = EXCLUDED.status
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		nullString(workflow.OwnerID),
		workflow.Name,
		workflow.Description,
		string(workflow.TriggerType),
		triggerConfig,
		steps,
		workflow.Timeout,
		workflow.MaxRetries,
		string(workflow.Status),
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow       models.Workflow
		triggerType    string
		status         string
		triggerConfig  []byte
		steps          []byte
		lastExecutedAt sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.OwnerID,
		&workflow.Name,
		&workflow.Description,
		&triggerType,
		&triggerConfig,
		&steps,
		&workflow.Timeout,
		&workflow.MaxRetries,
		&status,
		&workflow.TotalExecutions,
		&workflow.SuccessfulExecutions,
		&workflow.FailedExecutions,
		&lastExecutedAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.TriggerType = models.TriggerType(triggerType)
	workflow.Status = models.WorkflowStatus(status)
	workflow.LastExecutedAt = timePtr(lastExecutedAt)

	if err := unmarshalJSON(triggerConfig, &workflow.TriggerConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger_config: %w", err)
	}

	if err := unmarshalJSON(steps, &workflow.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &workflow, nil
}
