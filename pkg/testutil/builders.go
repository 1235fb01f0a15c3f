// Package testutil provides workflow builders shared by package tests.
package testutil

import (
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow returns an active manual workflow with the given steps and default
// timeout. Overrides run last.
func CreateTestWorkflow(steps []*models.Step, overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		OwnerID:     "owner-1",
		Name:        "Test Workflow",
		TriggerType: models.TriggerManual,
		Steps:       steps,
		Timeout:     models.DefaultTimeoutSeconds,
		MaxRetries:  models.DefaultMaxRetries,
		Status:      models.WorkflowStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// ActionStep builds an action step pointing at next ("" for terminal).
func ActionStep(id, action string, config map[string]any, next string) *models.Step {
	return &models.Step{
		ID:       id,
		Type:     models.StepTypeAction,
		Name:     id,
		Action:   action,
		Config:   config,
		NextStep: next,
	}
}

// ConditionStep builds a condition step with both branches.
func ConditionStep(id, condition, ifTrue, ifFalse string) *models.Step {
	return &models.Step{
		ID:        id,
		Type:      models.StepTypeCondition,
		Name:      id,
		Condition: condition,
		IfTrue:    ifTrue,
		IfFalse:   ifFalse,
	}
}

func WithTrigger(triggerType models.TriggerType, config map[string]any) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.TriggerType = triggerType
		w.TriggerConfig = config
	}
}

func WithTimeout(seconds int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Timeout = seconds
	}
}

func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}
