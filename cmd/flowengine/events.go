package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fractal-assets/flowengine/pkg/cmd"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/web"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Interact with the platform event bus",
		Commands: []*cli.Command{
			{
				Name:  "publish",
				Usage: "Publish a domain event for the running engines to route",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Usage:    "Event type, e.g. deal_status_changed",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "Event payload as a JSON object",
						Value: "{}",
					},
				}, eventBusFlags()...),
				Action: func(ctx context.Context, command *cli.Command) error {
					request := web.EventRequest{Type: command.String("type")}
					if err := json.Unmarshal([]byte(command.String("payload")), &request.Payload); err != nil {
						return fmt.Errorf("invalid payload: %w", err)
					}

					if err := validator.New(validator.WithRequiredStructEnabled()).Struct(request); err != nil {
						return err
					}

					logger := log.WithModule("flowengine").With("action", "publish")

					bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
					if err != nil {
						return err
					}

					defer func() {
						if err := bus.Close(); err != nil {
							logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
						}
					}()

					event := events.NewDomainEvent(request.Type, request.Payload)
					if err := bus.PublishDomain(ctx, event); err != nil {
						return fmt.Errorf("failed to publish event: %w", err)
					}

					_, _ = fmt.Fprintf(command.Root().Writer, "published %s (%s)\n", event.Type, event.ID)

					return nil
				},
			},
		},
	}
}
