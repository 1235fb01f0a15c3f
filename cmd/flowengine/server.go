package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/fractal-assets/flowengine/pkg/cmd"
	"github.com/fractal-assets/flowengine/pkg/conditions"
	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/locker"
	"github.com/fractal-assets/flowengine/pkg/otelhelper"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/scheduler"
	"github.com/fractal-assets/flowengine/pkg/web"
	"github.com/fractal-assets/flowengine/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
)

type ServerConfig struct {
	Port            int
	DatabaseURL     string
	PluginsPath     string
	EventBus        string
	KafkaBrokers    string
	RedisURL        string
	Tracing         bool
	MaxSteps        int
	ScheduleRefresh time.Duration
	ShutdownTimeout time.Duration
}

// Server owns every long-lived component of the serve command.
type Server struct {
	config ServerConfig
	logger *slog.Logger

	persistence    persistence.Persistence
	eventBus       eventbus.EventBus
	locker         locker.Locker
	shutdownTracer otelhelper.ShutdownFunc

	supervisor *workflow.Supervisor
	listener   *workflow.Listener
	scheduler  *scheduler.Scheduler
	handlers   *web.APIHandlers

	app *fiber.App
	ln  net.Listener
}

// NewServer opens the backing services and assembles the engine. Whatever was opened is closed
// again when a later step fails.
func NewServer(ctx context.Context, config ServerConfig, logger *slog.Logger) (_ *Server, err error) {
	s := &Server{config: config, logger: logger}

	defer func() {
		if err != nil {
			s.close(context.WithoutCancel(ctx))
		}
	}()

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, config.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	s.shutdownTracer = shutdownTracer

	if s.persistence, err = cmd.NewPersistence(ctx, logger, config.DatabaseURL); err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	if s.eventBus, err = cmd.NewEventBus(config.EventBus, config.KafkaBrokers, logger); err != nil {
		return nil, err
	}

	if s.locker, err = cmd.NewLocker(ctx, logger, config.RedisURL); err != nil {
		return nil, err
	}

	reg, err := cmd.NewRegistry(logger, config.PluginsPath, s.persistence, s.eventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to load action plugins: %w", err)
	}

	engineOpts := []workflow.EngineOption{
		workflow.WithTracer(tracer),
		workflow.WithPublisher(s.eventBus),
	}
	if config.MaxSteps > 0 {
		engineOpts = append(engineOpts, workflow.WithMaxSteps(config.MaxSteps))
	}

	engine := workflow.NewEngine(
		s.persistence.ExecutionRepository(),
		reg,
		conditions.NewEvaluator(logger),
		logger,
		engineOpts...,
	)

	workflows := s.persistence.WorkflowRepository()

	s.supervisor = workflow.NewSupervisor(engine, workflows, s.persistence.ExecutionRepository(), logger)
	s.listener = workflow.NewListener(workflows, s.supervisor, logger)

	schedulerOpts := []scheduler.Option{}
	if config.ScheduleRefresh > 0 {
		schedulerOpts = append(schedulerOpts, scheduler.WithRefreshInterval(config.ScheduleRefresh))
	}

	s.scheduler = scheduler.New(workflows, s.locker, logger, schedulerOpts...)
	s.handlers = web.NewAPIHandlers(
		s.persistence,
		s.supervisor,
		s.listener,
		reg,
		validator.New(validator.WithRequiredStructEnabled()),
	)
	s.app = s.App()

	return s, nil
}

func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", s.handlers.HealthCheck)

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowengine")
	})

	w := app.Group("/workflows")
	w.Get("/", s.handlers.GetWorkflows)
	w.Post("/", s.handlers.SaveWorkflow)
	w.Get("/:id", s.handlers.GetWorkflow)
	w.Post("/:id/trigger", s.handlers.TriggerWorkflow)
	w.Get("/:id/executions", s.handlers.ListExecutions)
	w.Get("/:id/executions/:executionId", s.handlers.GetExecution)
	w.Post("/:id/executions/:executionId/retry", s.handlers.RetryExecution)
	w.Post("/:id/executions/:executionId/cancel", s.handlers.CancelExecution)

	app.Post("/events", s.handlers.PublishEvent)

	catalog := app.Group("/catalog")
	catalog.Get("/triggers", s.handlers.TriggerCatalog)
	catalog.Get("/actions", s.handlers.ActionCatalog)

	return app
}

// Start subscribes to the bus, starts the scheduler and begins serving HTTP. It returns once
// everything is accepting work; serve errors are delivered on the returned channel.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	for _, eventType := range []events.EventType{
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionCancelledEvent,
	} {
		if err := s.eventBus.Handle(eventType, s.auditEvent); err != nil {
			return nil, err
		}
	}

	if err := s.eventBus.Subscribe(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to execution events: %w", err)
	}

	if err := s.eventBus.SubscribeDomain(ctx, s.listener.Handle); err != nil {
		return nil, fmt.Errorf("failed to subscribe to domain events: %w", err)
	}

	if err := s.scheduler.Start(ctx, s.listener.Handle); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	s.ln = ln

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- s.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	s.logger.InfoContext(ctx, "flowengine started", "addr", ln.Addr().String())

	return serveErr, nil
}

// Addr is the address the HTTP server listens on once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}

	return s.ln.Addr().String()
}

// Run starts the server and blocks until ctx is cancelled or the HTTP server fails, then shuts
// everything down.
func (s *Server) Run(ctx context.Context) error {
	serveErr, err := s.Start(ctx)
	if err != nil {
		return errors.Join(err, s.Shutdown(context.WithoutCancel(ctx)))
	}

	var runErr error

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down gracefully...")
	case runErr = <-serveErr:
		s.logger.Error("HTTP server stopped", "error", runErr)
	}

	return errors.Join(runErr, s.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown stops intake first, then gives running executions ShutdownTimeout to finish before
// they are failed, then releases the backing services.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error

	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	if s.ln != nil {
		_ = s.ln.Close()
	}

	if err := s.scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	if err := s.supervisor.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("executions: %w", err))
	}

	errs = append(errs, s.close(ctx))

	return errors.Join(errs...)
}

func (s *Server) close(ctx context.Context) error {
	var errs []error

	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event bus: %w", err))
		}
	}

	if s.locker != nil {
		if err := s.locker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("locker: %w", err))
		}
	}

	if s.persistence != nil {
		if err := s.persistence.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("persistence: %w", err))
		}
	}

	if s.shutdownTracer != nil {
		if err := s.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Server) auditEvent(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *events.ExecutionCompleted:
		s.logger.InfoContext(ctx, "Execution completed",
			"execution_id", e.ExecutionID, "workflow_id", e.WorkflowID, "duration_seconds", e.DurationSeconds)
	case *events.ExecutionFailed:
		s.logger.WarnContext(ctx, "Execution failed",
			"execution_id", e.ExecutionID, "workflow_id", e.WorkflowID, "step_id", e.StepID, "error", e.Error)
	case *events.ExecutionCancelled:
		s.logger.InfoContext(ctx, "Execution cancelled",
			"execution_id", e.ExecutionID, "workflow_id", e.WorkflowID)
	}

	return nil
}
