package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/scheduler"
	"github.com/fractal-assets/flowengine/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func NewServeCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		databaseURLFlag(),
		pluginsPathFlag(),
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL used to lock schedule ticks across instances; empty locks in process",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry spans over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.IntFlag{
			Name:    "max-steps",
			Usage:   "Maximum steps a single execution may run",
			Value:   workflow.DefaultMaxSteps,
			Sources: cli.EnvVars("MAX_STEPS"),
		},
		&cli.DurationFlag{
			Name:    "schedule-refresh",
			Usage:   "How often scheduled workflows are reloaded",
			Value:   scheduler.DefaultRefreshInterval,
			Sources: cli.EnvVars("SCHEDULE_REFRESH"),
		},
		&cli.DurationFlag{
			Name:    "shutdown-timeout",
			Usage:   "How long running executions may finish after a stop signal",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("SHUTDOWN_TIMEOUT"),
		},
	}

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API, the event consumer and the scheduler",
		Flags:   append(flags, eventBusFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := log.WithModule("flowengine")

			server, err := NewServer(ctx, ServerConfig{
				Port:            command.Int("port"),
				DatabaseURL:     command.String("database-url"),
				PluginsPath:     command.String("plugins-path"),
				EventBus:        command.String("event-bus"),
				KafkaBrokers:    command.String("kafka-brokers"),
				RedisURL:        command.String("redis-url"),
				Tracing:         command.Bool("tracing"),
				MaxSteps:        command.Int("max-steps"),
				ScheduleRefresh: command.Duration("schedule-refresh"),
				ShutdownTimeout: command.Duration("shutdown-timeout"),
			}, logger)
			if err != nil {
				return err
			}

			return server.Run(ctx)
		},
	}
}
