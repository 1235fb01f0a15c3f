// Package events defines the messages exchanged over the event bus: domain events consumed by the
// auto-trigger listener, execution lifecycle notifications and side-effect requests.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topics.
const Topic = "flowengine.events"       // Lifecycle notifications and side-effect requests
const DomainTopic = "flowengine.domain" // Platform domain events feeding auto-triggers

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Side effects delegated to downstream services.
	EmailRequestedEvent        EventType = "email.requested"
	NotificationRequestedEvent EventType = "notification.requested"
	DocumentRequestedEvent     EventType = "document.requested"

	// Inbound platform events.
	DomainEventType EventType = "domain.event"
)

type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

// Execution lifecycle events

type ExecutionStarted struct {
	BaseEvent

	WorkflowName  string         `json:"workflow_name"`
	TriggerType   string         `json:"trigger_type"`
	TriggerData   map[string]any `json:"trigger_data"`
	TriggerUserID string         `json:"trigger_user_id,omitempty"`
	RetryOf       string         `json:"retry_of,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	DurationSeconds float64  `json:"duration_seconds"`
	CompletedSteps  []string `json:"completed_steps"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	DurationSeconds float64        `json:"duration_seconds"`
	StepID          string         `json:"step_id,omitempty"`
	Error           string         `json:"error"`
	Details         map[string]any `json:"details,omitempty"`
	CompletedSteps  []string       `json:"completed_steps"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	CurrentStepID string `json:"current_step_id,omitempty"`
	CancelledBy   string `json:"cancelled_by,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// Side-effect requests. IdempotencyKey is stable per execution step so consumers can dedupe
// redelivered or retried requests.

type EmailRequested struct {
	BaseEvent

	IdempotencyKey string `json:"idempotency_key"`
	TemplateID     string `json:"template_id"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	HTMLBody       string `json:"html_body"`
	TextBody       string `json:"text_body"`
}

func (e EmailRequested) GetType() EventType {
	return EmailRequestedEvent
}

type NotificationRequested struct {
	BaseEvent

	IdempotencyKey string         `json:"idempotency_key"`
	UserID         string         `json:"user_id"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Channel        string         `json:"channel"`
	Data           map[string]any `json:"data,omitempty"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

type DocumentRequested struct {
	BaseEvent

	IdempotencyKey string         `json:"idempotency_key"`
	DocumentType   string         `json:"document_type"`
	Title          string         `json:"title"`
	OwnerID        string         `json:"owner_id"`
	Data           map[string]any `json:"data,omitempty"`
}

func (e DocumentRequested) GetType() EventType {
	return DocumentRequestedEvent
}

// DomainEvent is a platform event (investment_created, deal_status_changed, ...) as published by
// the rest of the platform on DomainTopic. Type holds the trigger type it maps to.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e DomainEvent) GetType() EventType {
	return DomainEventType
}

func NewDomainEvent(eventType string, payload map[string]any) DomainEvent {
	if payload == nil {
		payload = map[string]any{}
	}

	return DomainEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
