// Package models defines the workflow and execution records shared by the engine,
// persistence backends and the HTTP surface.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	DefaultTimeoutSeconds = 300
	DefaultMaxRetries     = 3
)

var (
	ErrNoSteps           = errors.New("workflow has no steps")
	ErrDuplicateStepID   = errors.New("duplicate step id")
	ErrDanglingReference = errors.New("step references unknown step")
	ErrCyclicWorkflow    = errors.New("workflow step graph contains a cycle")
	ErrInvalidSchedule   = errors.New("schedule trigger needs a valid cron expression")
)

// WorkflowStatus represents whether a workflow may be triggered.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
)

// TriggerType names the event family that starts a workflow.
type TriggerType string

const (
	TriggerManual            TriggerType = "manual"
	TriggerInvestmentCreated TriggerType = "investment_created"
	TriggerDealStatusChanged TriggerType = "deal_status_changed"
	TriggerPayoutCreated     TriggerType = "payout_created"
	TriggerKYCStatusChanged  TriggerType = "kyc_status_changed"
	TriggerSchedule          TriggerType = "schedule"
)

type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeCondition StepType = "condition"
)

// Workflow is a saved automation: a trigger plus a graph of steps.
type Workflow struct {
	ID            string         `json:"id"                         validate:"required"`
	OwnerID       string         `json:"owner_id"`
	Name          string         `json:"name"                       validate:"required,min=3"`
	Description   string         `json:"description"`
	TriggerType   TriggerType    `json:"trigger_type"               validate:"required,oneof=manual investment_created deal_status_changed payout_created kyc_status_changed schedule"`
	TriggerConfig map[string]any `json:"trigger_config,omitempty"`
	Steps         []*Step        `json:"steps"                      validate:"required,min=1,dive,required"`
	Timeout       int            `json:"timeout"                    validate:"gte=0"`
	MaxRetries    int            `json:"max_retries"                validate:"gte=0"`
	Status        WorkflowStatus `json:"status"                     validate:"required,oneof=active inactive"`

	TotalExecutions      int64      `json:"total_executions"`
	SuccessfulExecutions int64      `json:"successful_executions"`
	FailedExecutions     int64      `json:"failed_executions"`
	LastExecutedAt       *time.Time `json:"last_executed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step is one node of the workflow graph. Empty pointers are terminal.
type Step struct {
	ID        string         `json:"id"                  validate:"required"`
	Type      StepType       `json:"type"                validate:"required,oneof=action condition"`
	Name      string         `json:"name,omitempty"`
	Action    string         `json:"action,omitempty"    validate:"required_if=Type action"`
	Config    map[string]any `json:"config,omitempty"`
	NextStep  string         `json:"next_step,omitempty"`
	Condition string         `json:"condition,omitempty" validate:"required_if=Type condition"`
	IfTrue    string         `json:"if_true,omitempty"`
	IfFalse   string         `json:"if_false,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ApplyDefaults fills the optional numeric and status fields.
func (w *Workflow) ApplyDefaults() {
	if w.Timeout == 0 {
		w.Timeout = DefaultTimeoutSeconds
	}

	if w.MaxRetries == 0 {
		w.MaxRetries = DefaultMaxRetries
	}

	if w.Status == "" {
		w.Status = WorkflowStatusActive
	}

	if w.TriggerType == "" {
		w.TriggerType = TriggerManual
	}
}

// Validate checks field constraints and the shape of the step graph.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return ErrNoSteps
	}

	if err := validate.Struct(w); err != nil {
		return err
	}

	if w.TriggerType == TriggerSchedule {
		if err := validateSchedule(w.TriggerConfig); err != nil {
			return err
		}
	}

	index := make(map[string]*Step, len(w.Steps))
	for _, step := range w.Steps {
		if _, exists := index[step.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
		}

		index[step.ID] = step
	}

	for _, step := range w.Steps {
		for _, next := range step.Successors() {
			if _, ok := index[next]; !ok {
				return fmt.Errorf("%w: %s -> %s", ErrDanglingReference, step.ID, next)
			}
		}
	}

	return detectCycle(w.Steps, index)
}

func validateSchedule(config map[string]any) error {
	expr, _ := config["cron"].(string)
	if expr == "" {
		return ErrInvalidSchedule
	}

	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return nil
}

// EffectiveTimeout is the traversal budget in seconds.
func (w *Workflow) EffectiveTimeout() time.Duration {
	if w.Timeout <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}

	return time.Duration(w.Timeout) * time.Second
}

func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// FirstStepID returns the id of the first declared step, where traversal starts.
func (w *Workflow) FirstStepID() string {
	if len(w.Steps) == 0 {
		return ""
	}

	return w.Steps[0].ID
}

func (w *Workflow) StepByID(id string) (*Step, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// Successors lists the non-empty step pointers of s.
func (s *Step) Successors() []string {
	var out []string

	for _, id := range []string{s.NextStep, s.IfTrue, s.IfFalse} {
		if id != "" {
			out = append(out, id)
		}
	}

	return out
}

const (
	unvisited = iota
	visiting
	done
)

func detectCycle(steps []*Step, index map[string]*Step) error {
	state := make(map[string]int, len(steps))

	var visit func(id string) error

	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w at step %s", ErrCyclicWorkflow, id)
		case done:
			return nil
		}

		state[id] = visiting

		for _, next := range index[id].Successors() {
			if err := visit(next); err != nil {
				return err
			}
		}

		state[id] = done

		return nil
	}

	for _, step := range steps {
		if err := visit(step.ID); err != nil {
			return err
		}
	}

	return nil
}
