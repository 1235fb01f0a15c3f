package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/protocol"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	logger        *slog.Logger
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "eventbus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	return eb.publish(events.Topic, key, event)
}

func (eb *WatermillEventBus) PublishDomain(ctx context.Context, event events.DomainEvent) error {
	return eb.publish(events.DomainTopic, event.ID, event)
}

func (eb *WatermillEventBus) publish(topic, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			eb.mu.RLock()
			handler, exists := eb.subscriptions[eventType]
			eb.mu.RUnlock()

			if !exists {
				msg.Ack()

				continue
			}

			event := newEvent(eventType)
			if event == nil {
				eb.logger.WarnContext(ctx, "unknown event type", "event_type", eventType)
				msg.Ack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				eb.logger.WarnContext(ctx, "dropping undecodable event", "event_type", eventType, "error", err)
				msg.Ack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

// SubscribeDomain consumes DomainTopic. Messages that cannot be decoded are acked and dropped so
// they are not redelivered forever; callback failures are nacked for redelivery.
func (eb *WatermillEventBus) SubscribeDomain(ctx context.Context, callback protocol.TriggerCallback) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.DomainTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event events.DomainEvent

			if err := json.Unmarshal(msg.Payload, &event); err != nil || event.Type == "" {
				eb.logger.WarnContext(ctx, "dropping malformed domain event", "message_id", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			if err := callback(msg.Context(), event.Type, event.Payload); err != nil {
				eb.logger.ErrorContext(ctx, "domain event handler failed",
					"event_id", event.ID, "event_type", event.Type, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}

func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.ExecutionStartedEvent:
		return &events.ExecutionStarted{}
	case events.ExecutionCompletedEvent:
		return &events.ExecutionCompleted{}
	case events.ExecutionFailedEvent:
		return &events.ExecutionFailed{}
	case events.ExecutionCancelledEvent:
		return &events.ExecutionCancelled{}
	case events.EmailRequestedEvent:
		return &events.EmailRequested{}
	case events.NotificationRequestedEvent:
		return &events.NotificationRequested{}
	case events.DocumentRequestedEvent:
		return &events.DocumentRequested{}
	default:
		return nil
	}
}
