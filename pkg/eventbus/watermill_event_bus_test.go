package eventbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/fractal-assets/flowengine/pkg/channels/gochannel"
	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, log.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan *events.EmailRequested, 1)

	require.NoError(t, bus.Handle(events.EmailRequestedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.EmailRequested)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	sent := events.EmailRequested{
		BaseEvent:      events.NewBaseEvent(events.EmailRequestedEvent, "wf-1", "exec-1"),
		IdempotencyKey: "exec-1:welcome",
		To:             "ana@example.com",
		Subject:        "Welcome",
	}
	require.NoError(t, bus.Publish(ctx, sent.IdempotencyKey, sent))

	select {
	case got := <-received:
		assert.Equal(t, "ana@example.com", got.To)
		assert.Equal(t, "exec-1:welcome", got.IdempotencyKey)
		assert.Equal(t, "exec-1", got.ExecutionID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan events.EventType, 2)

	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionCompleted).GetType()

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, "wf-1", "exec-1"),
	}))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, "wf-1", "exec-1"),
	}))

	select {
	case got := <-received:
		assert.Equal(t, events.ExecutionCompletedEvent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_Domain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)

	type call struct {
		eventType string
		payload   map[string]any
	}

	calls := make(chan call, 2)

	require.NoError(t, bus.SubscribeDomain(ctx, func(_ context.Context, eventType string, payload map[string]any) error {
		calls <- call{eventType, payload}

		return nil
	}))

	require.NoError(t, bus.PublishDomain(ctx, events.NewDomainEvent("investment_created", map[string]any{
		"user_id": "u-1",
		"amount":  5000.0,
	})))

	select {
	case got := <-calls:
		assert.Equal(t, "investment_created", got.eventType)
		assert.Equal(t, "u-1", got.payload["user_id"])
		assert.InDelta(t, 5000.0, got.payload["amount"], 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("domain event not delivered")
	}
}

func TestWatermillEventBus_DomainRedeliversOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	attempts := make(chan int, 4)
	count := 0

	require.NoError(t, bus.SubscribeDomain(ctx, func(context.Context, string, map[string]any) error {
		count++
		attempts <- count

		if count == 1 {
			return errors.New("database unavailable")
		}

		return nil
	}))

	require.NoError(t, bus.PublishDomain(ctx, events.NewDomainEvent("payout_created", nil)))

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d not delivered", want)
		}
	}
}
