package models

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *Workflow {
	return &Workflow{
		ID:          "wf-1",
		Name:        "Large investment follow-up",
		TriggerType: TriggerInvestmentCreated,
		Status:      WorkflowStatusActive,
		Steps: []*Step{
			{ID: "check", Type: StepTypeCondition, Condition: "{{amount}} > 10000", IfTrue: "email"},
			{ID: "email", Type: StepTypeAction, Action: "send_email", NextStep: "notify"},
			{ID: "notify", Type: StepTypeAction, Action: "send_notification"},
		},
	}
}

func TestWorkflow_Validate_Valid(t *testing.T) {
	t.Parallel()

	require.NoError(t, validWorkflow().Validate())
}

func TestWorkflow_Validate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(w *Workflow)
		sentinel error
		field    string
	}{
		{
			name:     "no steps",
			mutate:   func(w *Workflow) { w.Steps = nil },
			sentinel: ErrNoSteps,
		},
		{
			name:     "duplicate step id",
			mutate:   func(w *Workflow) { w.Steps[2].ID = "email" },
			sentinel: ErrDuplicateStepID,
		},
		{
			name:     "dangling pointer",
			mutate:   func(w *Workflow) { w.Steps[2].NextStep = "missing" },
			sentinel: ErrDanglingReference,
		},
		{
			name:     "cycle",
			mutate:   func(w *Workflow) { w.Steps[2].NextStep = "check" },
			sentinel: ErrCyclicWorkflow,
		},
		{
			name: "schedule without cron",
			mutate: func(w *Workflow) {
				w.TriggerType = TriggerSchedule
				w.TriggerConfig = map[string]any{}
			},
			sentinel: ErrInvalidSchedule,
		},
		{
			name: "schedule with malformed cron",
			mutate: func(w *Workflow) {
				w.TriggerType = TriggerSchedule
				w.TriggerConfig = map[string]any{"cron": "every monday"}
			},
			sentinel: ErrInvalidSchedule,
		},
		{
			name:   "action step without action",
			mutate: func(w *Workflow) { w.Steps[1].Action = "" },
			field:  "Action",
		},
		{
			name:   "condition step without condition",
			mutate: func(w *Workflow) { w.Steps[0].Condition = "" },
			field:  "Condition",
		},
		{
			name:   "unknown trigger type",
			mutate: func(w *Workflow) { w.TriggerType = "cron" },
			field:  "TriggerType",
		},
		{
			name:   "unknown step type",
			mutate: func(w *Workflow) { w.Steps[1].Type = "loop" },
			field:  "Type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wf := validWorkflow()
			tt.mutate(wf)

			err := wf.Validate()
			require.Error(t, err)

			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)

				return
			}

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))

			found := false

			for _, fieldErr := range validationErrors {
				if fieldErr.Field() == tt.field {
					found = true
				}
			}

			assert.True(t, found, "expected a validation error on %s", tt.field)
		})
	}
}

func TestWorkflow_ApplyDefaults(t *testing.T) {
	t.Parallel()

	wf := &Workflow{}
	wf.ApplyDefaults()

	assert.Equal(t, DefaultTimeoutSeconds, wf.Timeout)
	assert.Equal(t, DefaultMaxRetries, wf.MaxRetries)
	assert.Equal(t, WorkflowStatusActive, wf.Status)
	assert.Equal(t, TriggerManual, wf.TriggerType)
	assert.Equal(t, 300*time.Second, wf.EffectiveTimeout())
}

func TestWorkflow_StepLookup(t *testing.T) {
	t.Parallel()

	wf := validWorkflow()

	assert.Equal(t, "check", wf.FirstStepID())

	step, ok := wf.StepByID("notify")
	require.True(t, ok)
	assert.Equal(t, "send_notification", step.Action)

	_, ok = wf.StepByID("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"email"}, wf.Steps[0].Successors())
	assert.Empty(t, wf.Steps[2].Successors())
}

func TestExecution_CloneIsDeep(t *testing.T) {
	t.Parallel()

	user := "user-1"
	exec := &Execution{
		ID:             "exec-1",
		TriggerUserID:  &user,
		Context:        map[string]any{"deal": map[string]any{"id": "d-1"}},
		StepResults:    map[string]any{"a": map[string]any{"ok": true}},
		CompletedSteps: []string{"a"},
	}

	clone := exec.Clone()
	clone.Context["deal"].(map[string]any)["id"] = "d-2"
	clone.CompletedSteps[0] = "b"
	*clone.TriggerUserID = "user-2"

	assert.Equal(t, "d-1", exec.Context["deal"].(map[string]any)["id"])
	assert.Equal(t, []string{"a"}, exec.CompletedSteps)
	assert.Equal(t, "user-1", *exec.TriggerUserID)
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusCancelled.IsTerminal())
}

func TestExecution_AppendLog(t *testing.T) {
	t.Parallel()

	exec := &Execution{}
	now := time.Now()

	exec.AppendLog(now, LogLevelInfo, "started", nil)
	exec.AppendLog(now, LogLevelError, "failed", errors.New("boom"))

	require.Len(t, exec.Logs, 2)
	assert.Empty(t, exec.Logs[0].Error)
	assert.Equal(t, "boom", exec.Logs[1].Error)
}
