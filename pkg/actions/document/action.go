// Package document requests generation of an investor document (agreement, statement, certificate).
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/spf13/cast"
)

const ActionType = "create_document"

var ErrMissingField = errors.New("missing required field")

type Action struct {
	DocumentType string
	Title        string
	OwnerID      string
	Data         map[string]any

	publisher eventbus.EventPublisher
}

func NewAction(config map[string]any, publisher eventbus.EventPublisher) (*Action, error) {
	documentType := strings.TrimSpace(cast.ToString(config["document_type"]))
	if documentType == "" {
		return nil, fmt.Errorf("%w: document_type", ErrMissingField)
	}

	title := cast.ToString(config["title"])
	if title == "" {
		title = documentType
	}

	data := map[string]any{}

	if raw, ok := config["data"]; ok && raw != nil {
		parsed, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid document data: %w", err)
		}

		data = parsed
	}

	return &Action{
		DocumentType: documentType,
		Title:        title,
		OwnerID:      cast.ToString(config["owner_id"]),
		Data:         data,
		publisher:    publisher,
	}, nil
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	request := events.DocumentRequested{
		BaseEvent:      events.NewBaseEvent(events.DocumentRequestedEvent, input.WorkflowID, input.ExecutionID),
		IdempotencyKey: input.IdempotencyKey(),
		DocumentType:   a.DocumentType,
		Title:          a.Title,
		OwnerID:        a.OwnerID,
		Data:           a.Data,
	}

	if err := a.publisher.Publish(ctx, request.IdempotencyKey, request); err != nil {
		return nil, fmt.Errorf("failed to request document: %w", err)
	}

	input.Log.Log(models.LogLevelInfo, fmt.Sprintf("Document %q (%s) requested", a.Title, a.DocumentType), nil)

	return map[string]any{
		"action":        ActionType,
		"document_type": a.DocumentType,
		"title":         a.Title,
		"owner_id":      a.OwnerID,
		"request_id":    request.ID,
		"status":        "requested",
	}, nil
}
