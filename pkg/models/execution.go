package models

import "time"

type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is one line of an execution's append-only log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// Execution is one run of a workflow. Its JSON form is read by external tooling.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	TriggerUserID *string         `json:"trigger_user_id,omitempty"`
	TriggerData   map[string]any  `json:"trigger_data"`
	Context       map[string]any  `json:"context"`
	Status        ExecutionStatus `json:"status"`

	CurrentStepID  string         `json:"current_step_id"`
	CompletedSteps []string       `json:"completed_steps"`
	StepResults    map[string]any `json:"step_results"`
	Logs           []LogEntry     `json:"logs"`

	ErrorMessage  string         `json:"error_message,omitempty"`
	ErrorDetails  map[string]any `json:"error_details,omitempty"`
	TotalDuration *float64       `json:"total_duration,omitempty"`

	// RetryOf links a retry to the failed execution it replays.
	RetryOf     string `json:"retry_of,omitempty"`
	StartStepID string `json:"start_step_id,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (e *Execution) AppendLog(at time.Time, level LogLevel, message string, err error) {
	entry := LogEntry{Timestamp: at, Level: level, Message: message}
	if err != nil {
		entry.Error = err.Error()
	}

	e.Logs = append(e.Logs, entry)
}

// Clone returns a deep copy so callers never share maps with a running traversal.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}

	out := *e

	if e.TriggerUserID != nil {
		id := *e.TriggerUserID
		out.TriggerUserID = &id
	}

	if e.TotalDuration != nil {
		d := *e.TotalDuration
		out.TotalDuration = &d
	}

	if e.CompletedAt != nil {
		at := *e.CompletedAt
		out.CompletedAt = &at
	}

	out.TriggerData = CloneMap(e.TriggerData)
	out.Context = CloneMap(e.Context)
	out.StepResults = CloneMap(e.StepResults)
	out.ErrorDetails = CloneMap(e.ErrorDetails)
	out.CompletedSteps = append([]string(nil), e.CompletedSteps...)
	out.Logs = append([]LogEntry(nil), e.Logs...)

	return &out
}

// CloneMap deep-copies nested maps and slices; other values are shared.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}
