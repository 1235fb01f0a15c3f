package workflow_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/fractal-assets/flowengine/pkg/testutil"
	"github.com/fractal-assets/flowengine/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_TriggerInactiveWorkflow(t *testing.T) {
	e := newEnv(t)

	wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("A", "echo", nil, ""),
	}, testutil.WithStatus(models.WorkflowStatusInactive)))

	execution, err := e.supervisor.Trigger(context.Background(), wf, nil, nil, nil)

	require.ErrorIs(t, err, workflow.ErrWorkflowNotActive)
	assert.Nil(t, execution)

	executions, err := e.store.ExecutionRepository().ListByWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestSupervisor_TriggerSeedsContext(t *testing.T) {
	e := newEnv(t)
	userID := "u-1"

	wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("A", "echo", map[string]any{"to": "{{email}}", "deal": "{{trigger_data.deal_id}}"}, ""),
	}))

	snapshot, err := e.supervisor.Trigger(context.Background(), wf, &userID,
		map[string]any{"deal_id": "d-1", "email": "old@example.com"},
		map[string]any{"email": "ana@example.com"})
	require.NoError(t, err)

	execution := e.wait(t, snapshot.ID)

	require.NotNil(t, execution.TriggerUserID)
	assert.Equal(t, "u-1", *execution.TriggerUserID)
	assert.Equal(t, map[string]any{"deal_id": "d-1", "email": "old@example.com"}, execution.TriggerData)
	assert.Equal(t, map[string]any{"deal_id": "d-1", "email": "ana@example.com"}, execution.Context)
	assert.Equal(t, map[string]any{"to": "ana@example.com", "deal": "d-1"}, execution.StepResults["A"])
}

func TestSupervisor_RetryReplaysFailedExecution(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("A", "fail", nil, ""),
	}))

	first, err := e.supervisor.Trigger(ctx, wf, nil, map[string]any{"deal_id": "d-1"}, map[string]any{"amount": 5000.0})
	require.NoError(t, err)

	failed := e.wait(t, first.ID)
	require.Equal(t, models.ExecutionStatusFailed, failed.Status)

	retry, err := e.supervisor.Retry(ctx, failed.ID, workflow.RetryOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, failed.ID, retry.ID)
	assert.Equal(t, failed.WorkflowID, retry.WorkflowID)
	assert.Equal(t, failed.TriggerData, retry.TriggerData)
	assert.Equal(t, failed.Context, retry.Context)
	assert.Equal(t, failed.ID, retry.RetryOf)
	assert.Empty(t, retry.StartStepID)

	e.wait(t, retry.ID)

	original, err := e.store.ExecutionRepository().GetByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed, original)
}

func TestSupervisor_RetryResumesFromFailedStep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var firstCalls, flakyCalls atomic.Int32

	e.registry.RegisterAction(&stubFactory{id: "count", run: func(context.Context, map[string]any, protocol.ActionInput) (map[string]any, error) {
		firstCalls.Add(1)

		return map[string]any{"counted": true}, nil
	}})
	e.registry.RegisterAction(&stubFactory{id: "flaky", run: func(context.Context, map[string]any, protocol.ActionInput) (map[string]any, error) {
		if flakyCalls.Add(1) == 1 {
			return nil, errStepBoom
		}

		return map[string]any{"ok": true}, nil
	}})

	wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("A", "count", nil, "B"),
		testutil.ActionStep("B", "flaky", nil, "C"),
		testutil.ActionStep("C", "echo", map[string]any{"from_a": "{{steps.A.counted}}"}, ""),
	}))

	first, err := e.supervisor.Trigger(ctx, wf, nil, nil, nil)
	require.NoError(t, err)

	failed := e.wait(t, first.ID)
	require.Equal(t, models.ExecutionStatusFailed, failed.Status)
	require.Equal(t, "B", failed.CurrentStepID)

	retry, err := e.supervisor.Retry(ctx, failed.ID, workflow.RetryOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, "B", retry.StartStepID)

	resumed := e.wait(t, retry.ID)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, []string{"A", "B", "C"}, resumed.CompletedSteps)
	assert.Equal(t, map[string]any{"from_a": "true"}, resumed.StepResults["C"])
	assert.Equal(t, int32(1), firstCalls.Load())
	assert.Equal(t, int32(2), flakyCalls.Load())
}

func TestSupervisor_RetryRejectsNonFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("A", "echo", nil, ""),
	}))

	snapshot, err := e.supervisor.Trigger(ctx, wf, nil, nil, nil)
	require.NoError(t, err)

	completed := e.wait(t, snapshot.ID)

	_, err = e.supervisor.Retry(ctx, completed.ID, workflow.RetryOptions{})
	require.ErrorIs(t, err, workflow.ErrExecutionNotFailed)

	_, err = e.supervisor.Retry(ctx, "missing", workflow.RetryOptions{})
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestSupervisor_CancelStopsRunningExecution(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("first", "echo", nil, "wait"),
		testutil.ActionStep("wait", "delay", map[string]any{"duration": 30}, "after"),
		testutil.ActionStep("after", "echo", nil, ""),
	}))

	snapshot, err := e.supervisor.Trigger(ctx, wf, nil, nil, nil)
	require.NoError(t, err)

	// the first checkpoint means the run is inside the delay
	require.Eventually(t, func() bool {
		stored, err := e.store.ExecutionRepository().GetByID(ctx, snapshot.ID)

		return err == nil && len(stored.CompletedSteps) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancelled, err := e.supervisor.Cancel(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	require.Eventually(t, func() bool { return e.supervisor.InFlight() == 0 }, 5*time.Second, 5*time.Millisecond)

	stored, err := e.store.ExecutionRepository().GetByID(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Equal(t, []string{"first"}, stored.CompletedSteps)
	assert.Contains(t, stored.StepResults, "first")
	assert.Equal(t, "Execution cancelled", stored.Logs[len(stored.Logs)-1].Message)

	counters := e.workflowByID(t, wf.ID)
	assert.Equal(t, int64(1), counters.TotalExecutions)
	assert.Equal(t, int64(0), counters.SuccessfulExecutions)
	assert.Equal(t, int64(0), counters.FailedExecutions)

	assert.Contains(t, e.publisher.Types(), events.ExecutionCancelledEvent)
	assert.NotContains(t, e.publisher.Types(), events.ExecutionFailedEvent)

	_, err = e.supervisor.Cancel(ctx, snapshot.ID)
	require.ErrorIs(t, err, workflow.ErrExecutionNotRunning)
}

func TestSupervisor_CancelTerminalIsRejectedWithoutMutation(t *testing.T) {
	tests := []struct {
		name   string
		action string
		want   models.ExecutionStatus
	}{
		{"completed", "echo", models.ExecutionStatusCompleted},
		{"failed", "fail", models.ExecutionStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()

			wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
				testutil.ActionStep("A", tt.action, nil, ""),
			}))

			snapshot, err := e.supervisor.Trigger(ctx, wf, nil, nil, nil)
			require.NoError(t, err)

			before := e.wait(t, snapshot.ID)
			require.Equal(t, tt.want, before.Status)

			_, err = e.supervisor.Cancel(ctx, snapshot.ID)
			require.ErrorIs(t, err, workflow.ErrExecutionNotRunning)

			after, err := e.store.ExecutionRepository().GetByID(ctx, snapshot.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.save(t, testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("wait", "delay", map[string]any{"duration": 30}, ""),
	}))

	snapshot, err := e.supervisor.Trigger(ctx, wf, nil, nil, nil)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, e.supervisor.Shutdown(shutdownCtx), context.DeadlineExceeded)
	assert.Equal(t, 0, e.supervisor.InFlight())

	stored, err := e.store.ExecutionRepository().GetByID(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, workflow.CodeShuttingDown, stored.ErrorDetails["code"])

	_, err = e.supervisor.Trigger(ctx, wf, nil, nil, nil)
	require.ErrorIs(t, err, workflow.ErrShuttingDown)
}
