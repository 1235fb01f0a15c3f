// Package eventbus carries execution lifecycle events and side-effect requests out of the engine
// and platform domain events into it.
package eventbus

import (
	"context"

	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/protocol"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// DomainPublisher lets the platform (or tests) emit domain events for auto-triggers.
type DomainPublisher interface {
	PublishDomain(ctx context.Context, event events.DomainEvent) error
}

// DomainSubscriber consumes domain events and hands each one to the callback.
type DomainSubscriber interface {
	SubscribeDomain(ctx context.Context, callback protocol.TriggerCallback) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	DomainPublisher
	DomainSubscriber
	Close() error
	GenerateID() string
}
