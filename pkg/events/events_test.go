package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	base := NewBaseEvent(ExecutionStartedEvent, "wf-1", "exec-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, ExecutionStartedEvent, base.Type)
	assert.Equal(t, "wf-1", base.WorkflowID)
	assert.Equal(t, "exec-1", base.ExecutionID)
	assert.False(t, base.Timestamp.IsZero())
	assert.NotNil(t, base.Metadata)
	assert.NotEqual(t, base.ID, NewBaseEvent(ExecutionStartedEvent, "wf-1", "exec-1").ID)
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  EventType
	}{
		{"started", ExecutionStarted{}, ExecutionStartedEvent},
		{"completed", ExecutionCompleted{}, ExecutionCompletedEvent},
		{"failed", ExecutionFailed{}, ExecutionFailedEvent},
		{"cancelled", ExecutionCancelled{}, ExecutionCancelledEvent},
		{"email", EmailRequested{}, EmailRequestedEvent},
		{"notification", NotificationRequested{}, NotificationRequestedEvent},
		{"document", DocumentRequested{}, DocumentRequestedEvent},
		{"domain", DomainEvent{}, DomainEventType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.GetType())
		})
	}
}

func TestEmailRequested_JSON(t *testing.T) {
	original := EmailRequested{
		BaseEvent:      NewBaseEvent(EmailRequestedEvent, "wf-1", "exec-1"),
		IdempotencyKey: "exec-1:welcome",
		TemplateID:     "tpl-welcome",
		To:             "ana@example.com",
		Subject:        "Welcome Ana",
		HTMLBody:       "<p>Hi Ana</p>",
		TextBody:       "Hi Ana",
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"idempotency_key":"exec-1:welcome"`)
	assert.Contains(t, string(data), `"execution_id":"exec-1"`)

	var decoded EmailRequested
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.To, decoded.To)
	assert.Equal(t, original.Subject, decoded.Subject)
	assert.Equal(t, original.WorkflowID, decoded.WorkflowID)
}

func TestNewDomainEvent(t *testing.T) {
	event := NewDomainEvent("investment_created", nil)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "investment_created", event.Type)
	assert.NotNil(t, event.Payload)
	assert.False(t, event.OccurredAt.IsZero())
}
