package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/lib/pq"
)

const executionColumns = `
			id
		  , workflow_id
		  , trigger_user_id
		  , trigger_data
		  , context
		  , status
		  , current_step_id
		  , completed_steps
		  , step_results
		  , logs
		  , COALESCE(error_message, '')
		  , error_details
		  , total_duration
		  , COALESCE(retry_of, '')
		  , COALESCE(start_step_id, '')
		  , started_at
		  , completed_at`

// ExecutionRepository persists executions in workflow_executions.
type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

type executionParams struct {
	triggerData    string
	context        string
	completedSteps string
	stepResults    string
	logs           string
	errorDetails   sql.NullString
}

func encodeExecution(execution *models.Execution) (*executionParams, error) {
	var (
		params executionParams
		err    error
	)

	if params.triggerData, err = marshalJSON(execution.TriggerData, "{}"); err != nil {
		return nil, fmt.Errorf("trigger_data: %w", err)
	}

	if params.context, err = marshalJSON(execution.Context, "{}"); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	if params.completedSteps, err = marshalJSON(execution.CompletedSteps, "[]"); err != nil {
		return nil, fmt.Errorf("completed_steps: %w", err)
	}

	if params.stepResults, err = marshalJSON(execution.StepResults, "{}"); err != nil {
		return nil, fmt.Errorf("step_results: %w", err)
	}

	if params.logs, err = marshalJSON(execution.Logs, "[]"); err != nil {
		return nil, fmt.Errorf("logs: %w", err)
	}

	if execution.ErrorDetails != nil {
		details, err := marshalJSON(execution.ErrorDetails, "{}")
		if err != nil {
			return nil, fmt.Errorf("error_details: %w", err)
		}

		params.errorDetails = sql.NullString{String: details, Valid: true}
	}

	return &params, nil
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	params, err := encodeExecution(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	var triggerUserID sql.NullString
	if execution.TriggerUserID != nil {
		triggerUserID = sql.NullString{String: *execution.TriggerUserID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (
			id, workflow_id, trigger_user_id, trigger_data, context, status, current_step_id,
			completed_steps, step_results, logs, error_message, error_details, total_duration,
			retry_of, start_step_id, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		execution.ID,
		execution.WorkflowID,
		triggerUserID,
		params.triggerData,
		params.context,
		string(execution.Status),
		execution.CurrentStepID,
		params.completedSteps,
		params.stepResults,
		params.logs,
		nullString(execution.ErrorMessage),
		params.errorDetails,
		execution.TotalDuration,
		nullString(execution.RetryOf),
		nullString(execution.StartStepID),
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// ListByWorkflow returns the workflow's executions, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

const updateExecutionSQL = `
		UPDATE workflow_executions SET
			status = $2
		  , current_step_id = $3
		  , completed_steps = $4
		  , step_results = $5
		  , logs = $6
		  , context = $7
		  , error_message = $8
		  , error_details = $9
		  , total_duration = $10
		  , completed_at = $11
		WHERE id = $1 AND status = 'running'
	`

func (r *ExecutionRepository) Checkpoint(ctx context.Context, execution *models.Execution) error {
	return r.update(ctx, r.db, "Checkpoint", execution)
}

// Finish writes the terminal state and bumps workflow counters in one transaction.
func (r *ExecutionRepository) Finish(ctx context.Context, execution *models.Execution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewExecutionError("Finish", execution.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := r.update(ctx, tx, "Finish", execution); err != nil {
		return err
	}

	if err := bumpCounters(ctx, tx, "Finish", execution); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewExecutionError("Finish", execution.ID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

// MarkCancelled updates only the cancellation columns and appends entry to the JSONB log, so
// concurrent checkpoints of step progress are never overwritten.
func (r *ExecutionRepository) MarkCancelled(
	ctx context.Context,
	id string,
	at time.Time,
	entry models.LogEntry,
) (*models.Execution, error) {
	logEntry, err := marshalJSON([]models.LogEntry{entry}, "[]")
	if err != nil {
		return nil, persistence.NewExecutionError("MarkCancelled", id, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewExecutionError("MarkCancelled", id, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		UPDATE workflow_executions SET
			status = 'cancelled'
		  , completed_at = $2
		  , total_duration = EXTRACT(EPOCH FROM ($2::timestamptz - started_at))::double precision
		  , logs = logs || $3::jsonb
		WHERE id = $1 AND status = 'running'
		RETURNING `+executionColumns,
		id, at, logEntry,
	)

	execution, err := scanExecution(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("MarkCancelled", id, err)
		}

		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}

		return nil, persistence.NewExecutionError("MarkCancelled", id, persistence.ErrExecutionNotRunning)
	}

	if err := bumpCounters(ctx, tx, "MarkCancelled", execution); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence.NewExecutionError("MarkCancelled", id, fmt.Errorf("failed to commit: %w", err))
	}

	return execution, nil
}

func bumpCounters(ctx context.Context, db execer, op string, execution *models.Execution) error {
	_, err := db.ExecContext(ctx, `
		UPDATE workflows SET
			total_executions = total_executions + 1
		  , successful_executions = successful_executions + CASE WHEN $2::text = 'completed' THEN 1 ELSE 0 END
		  , failed_executions = failed_executions + CASE WHEN $2::text = 'failed' THEN 1 ELSE 0 END
		  , last_executed_at = COALESCE($3::timestamptz, last_executed_at)
		WHERE id = $1
	`, execution.WorkflowID, string(execution.Status), execution.CompletedAt)
	if err != nil {
		return persistence.NewWorkflowError(op, execution.WorkflowID, err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ExecutionRepository) update(ctx context.Context, db execer, op string, execution *models.Execution) error {
	params, err := encodeExecution(execution)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	result, err := db.ExecContext(ctx, updateExecutionSQL,
		execution.ID,
		string(execution.Status),
		execution.CurrentStepID,
		params.completedSteps,
		params.stepResults,
		params.logs,
		params.context,
		nullString(execution.ErrorMessage),
		params.errorDetails,
		execution.TotalDuration,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, execution.ID).Scan(&exists)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	if !exists {
		return persistence.NewExecutionError(op, execution.ID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError(op, execution.ID, persistence.ErrExecutionNotRunning)
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution      models.Execution
		status         string
		triggerUserID  sql.NullString
		triggerData    []byte
		contextData    []byte
		completedSteps []byte
		stepResults    []byte
		logs           []byte
		errorDetails   []byte
		totalDuration  sql.NullFloat64
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&triggerUserID,
		&triggerData,
		&contextData,
		&status,
		&execution.CurrentStepID,
		&completedSteps,
		&stepResults,
		&logs,
		&execution.ErrorMessage,
		&errorDetails,
		&totalDuration,
		&execution.RetryOf,
		&execution.StartStepID,
		&execution.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.CompletedAt = timePtr(completedAt)
	execution.StartedAt = execution.StartedAt.UTC()

	if triggerUserID.Valid {
		execution.TriggerUserID = &triggerUserID.String
	}

	if totalDuration.Valid {
		execution.TotalDuration = &totalDuration.Float64
	}

	for _, field := range []struct {
		data   []byte
		target any
	}{
		{triggerData, &execution.TriggerData},
		{contextData, &execution.Context},
		{completedSteps, &execution.CompletedSteps},
		{stepResults, &execution.StepResults},
		{logs, &execution.Logs},
		{errorDetails, &execution.ErrorDetails},
	} {
		if err := unmarshalJSON(field.data, field.target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution %s: %w", execution.ID, err)
		}
	}

	return &execution, nil
}
