package workflow

import (
	"errors"
	"fmt"

	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/registry"
)

var (
	// ErrWorkflowNotActive is returned by Trigger and Retry for inactive workflows.
	ErrWorkflowNotActive = errors.New("workflow is not active")

	// ErrStepNotFound means a step pointer references an id missing from the workflow.
	ErrStepNotFound = errors.New("step not found")

	// ErrWorkflowTimeout is raised at a step boundary once elapsed time reaches the workflow timeout.
	// It is also the cancellation cause of the run context when the budget runs out mid-step.
	ErrWorkflowTimeout = errors.New("workflow timeout exceeded")

	// ErrStepLimitExceeded caps traversal of malformed graphs.
	ErrStepLimitExceeded = errors.New("step limit exceeded")

	ErrExecutionNotFailed  = errors.New("only failed executions can be retried")
	ErrExecutionNotRunning = persistence.ErrExecutionNotRunning

	// ErrExecutionCancelled is the cancellation cause of a run stopped by Cancel.
	ErrExecutionCancelled = errors.New("execution cancelled")

	// ErrShuttingDown is returned for new runs after Shutdown and is the cause used to
	// stop runs still in flight when the shutdown deadline passes.
	ErrShuttingDown = errors.New("supervisor is shutting down")
)

// Error codes stored in error_details.code.
const (
	CodeWorkflowTimeout   = "workflow_timeout"
	CodeStepNotFound      = "step_not_found"
	CodeStepLimitExceeded = "step_limit_exceeded"
	CodeUnknownAction     = "unknown_action"
	CodeInvalidConfig     = "invalid_config"
	CodeTemplateNotFound  = "template_not_found"
	CodeUserNotFound      = "user_not_found"
	CodeDealNotFound      = "deal_not_found"
	CodeShuttingDown      = "shutting_down"
	CodeActionFailed      = "action_failed"
)

// StepError attaches the failing step to an execution error.
type StepError struct {
	StepID string
	Action string
	Err    error
}

func (e *StepError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("step %s (%s): %v", e.StepID, e.Action, e.Err)
	}

	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ErrorCode classifies a run error for error_details.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrWorkflowTimeout):
		return CodeWorkflowTimeout
	case errors.Is(err, ErrStepNotFound):
		return CodeStepNotFound
	case errors.Is(err, ErrStepLimitExceeded):
		return CodeStepLimitExceeded
	case errors.Is(err, registry.ErrUnknownAction):
		return CodeUnknownAction
	case errors.Is(err, registry.ErrInvalidConfig):
		return CodeInvalidConfig
	case errors.Is(err, persistence.ErrEmailTemplateNotFound):
		return CodeTemplateNotFound
	case errors.Is(err, persistence.ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, persistence.ErrDealNotFound):
		return CodeDealNotFound
	case errors.Is(err, ErrShuttingDown):
		return CodeShuttingDown
	default:
		return CodeActionFailed
	}
}

// ErrorDetails is the error_details document of a failed execution.
func ErrorDetails(err error) map[string]any {
	details := map[string]any{
		"code":  ErrorCode(err),
		"error": err.Error(),
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		details["step_id"] = stepErr.StepID

		if stepErr.Action != "" {
			details["action"] = stepErr.Action
		}
	}

	return details
}
