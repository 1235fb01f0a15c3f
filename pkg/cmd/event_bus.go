package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/fractal-assets/flowengine/pkg/channels/gochannel"
	"github.com/fractal-assets/flowengine/pkg/channels/kafka"
	"github.com/fractal-assets/flowengine/pkg/eventbus"
)

// ServiceName names the Kafka consumer group and the tracer.
const ServiceName = "flowengine"

// NewEventBus builds the bus for provider: "gochannel" (in process) or "kafka", where brokers is
// a comma separated list.
func NewEventBus(provider, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger.With("module", "watermill"))

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, err
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
