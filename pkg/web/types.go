package web

import "github.com/fractal-assets/flowengine/pkg/models"

// UserIDHeader carries the id of the user starting an execution.
const UserIDHeader = "X-User-ID"

type TriggerRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
	Context     map[string]any `json:"context"`
}

type RetryRequest struct {
	// Resume continues from the failed step instead of replaying the workflow.
	Resume bool `json:"resume"`
}

// EventRequest is a platform event posted for routing to auto-triggered workflows.
type EventRequest struct {
	Type    string         `json:"type"    validate:"required,oneof=investment_created deal_status_changed payout_created kyc_status_changed schedule"`
	Payload map[string]any `json:"payload"`
}

type EventResponse struct {
	Type         string   `json:"type"`
	Triggered    int      `json:"triggered"`
	ExecutionIDs []string `json:"execution_ids"`
}

type ExecutionListResponse struct {
	Executions []*models.Execution `json:"executions"`
	TotalCount int                 `json:"total_count"`
}
