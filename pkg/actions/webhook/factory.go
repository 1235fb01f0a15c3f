package webhook

import (
	"context"
	"net/http"

	"github.com/fractal-assets/flowengine/pkg/protocol"
)

type ActionFactory struct {
	client *http.Client
}

// NewActionFactory creates webhook actions sharing client. A nil client gets a 30s timeout.
func NewActionFactory(client *http.Client) *ActionFactory {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &ActionFactory{client: client}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.client)
}

func (f *ActionFactory) ID() string {
	return ActionType
}

func (f *ActionFactory) Name() string {
	return "Webhook"
}

func (f *ActionFactory) Description() string {
	return "Sends an HTTP request to an external URL and records the status and response body."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL. Supports {{placeholders}}.",
				"examples":    []string{"https://hooks.example.com/deals/{{deal_id}}"},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "POST",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. Objects and arrays are sent as JSON.",
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}
