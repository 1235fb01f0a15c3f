// Package webhook provides the webhook action: one HTTP request to a configured URL.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/spf13/cast"
)

const (
	ActionType = "webhook"

	defaultTimeout = 30 * time.Second

	// IdempotencyHeader carries "<execution_id>:<step_id>" so receivers can drop replays.
	IdempotencyHeader = "Idempotency-Key"
)

var (
	// ErrURLInvalid is returned when the url is missing or not absolute.
	ErrURLInvalid = errors.New("invalid webhook url")
	// ErrMethodInvalid is returned for methods outside the allowed set.
	ErrMethodInvalid = errors.New("invalid HTTP method")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string

	client *http.Client
}

// NewAction builds a webhook from a resolved step config. A nil client gets a 30s timeout.
func NewAction(config map[string]any, client *http.Client) (*Action, error) {
	url := strings.TrimSpace(cast.ToString(config["url"]))
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrURLInvalid, url)
	}

	method := strings.ToUpper(cast.ToString(config["method"]))
	if method == "" {
		method = http.MethodPost
	}

	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrMethodInvalid, method)
	}

	headers := map[string]string{}

	if raw, exists := config["headers"]; exists && raw != nil {
		parsed, err := cast.ToStringMapStringE(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook headers: %w", err)
		}

		headers = parsed
	}

	body, err := encodeBody(config["body"])
	if err != nil {
		return nil, err
	}

	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Action{
		URL:     url,
		Method:  method,
		Headers: headers,
		Body:    body,
		client:  client,
	}, nil
}

func encodeBody(raw any) (string, error) {
	switch body := raw.(type) {
	case nil:
		return "", nil
	case string:
		return body, nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to marshal webhook body: %w", err)
		}

		return string(encoded), nil
	}
}

// Execute sends the request. Transport faults (including the timeout) fail the step; any HTTP
// status is returned as a result.
func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	logger := input.Logger.With("action_type", ActionType, "url", a.URL)

	var bodyReader io.Reader
	if a.Body != "" {
		bodyReader = strings.NewReader(a.Body)
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	if a.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if req.Header.Get(IdempotencyHeader) == "" {
		req.Header.Set(IdempotencyHeader, input.IdempotencyKey())
	}

	resp, err := a.client.Do(req)
	if err != nil {
		input.Log.Log(models.LogLevelError, fmt.Sprintf("Webhook %s %s failed", a.Method, a.URL), err)

		return nil, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var response any

	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		response = string(bodyBytes)
	}

	level := models.LogLevelInfo
	if resp.StatusCode >= http.StatusBadRequest {
		level = models.LogLevelWarn
	}

	input.Log.Log(level, fmt.Sprintf("Webhook %s %s responded %d", a.Method, a.URL, resp.StatusCode), nil)
	logger.DebugContext(ctx, "webhook completed", "status", resp.StatusCode, "bytes", len(bodyBytes))

	return map[string]any{
		"action":   ActionType,
		"url":      a.URL,
		"status":   resp.StatusCode,
		"response": response,
	}, nil
}
