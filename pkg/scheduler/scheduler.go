// Package scheduler fires the "schedule" trigger for active workflows on their cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fractal-assets/flowengine/pkg/locker"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultLockTTL         = 5 * time.Minute
)

// Scheduler keeps one cron entry per distinct expression used by active schedule workflows.
// A tick is dispatched as a single "schedule" event; the listener then matches workflows by
// their trigger_config.cron. Every tick takes a lease so only one instance dispatches it.
type Scheduler struct {
	workflows persistence.WorkflowRepository
	locker    locker.Locker
	logger    *slog.Logger
	refresh   time.Duration
	lockTTL   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	entries  map[string]cron.EntryID
	callback protocol.TriggerCallback
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type Option func(*Scheduler)

func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.refresh = d }
}

func WithLockTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.lockTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(workflows persistence.WorkflowRepository, lock locker.Locker, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		workflows: workflows,
		locker:    lock,
		logger:    logger.With("module", "scheduler"),
		refresh:   DefaultRefreshInterval,
		lockTTL:   DefaultLockTTL,
		now:       time.Now,
		entries:   make(map[string]cron.EntryID),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

var _ protocol.Trigger = (*Scheduler)(nil)

// Start loads the schedules, starts the cron runner and keeps the entries in sync with the
// stored workflows until Stop.
func (s *Scheduler) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	s.mu.Lock()

	if s.cron != nil {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}

	cronLog := cronLogger{s.logger}
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))
	s.callback = callback
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	s.cron.Start()

	s.wg.Add(1)

	go s.refreshLoop()

	s.logger.InfoContext(ctx, "Scheduler started", "refresh_interval", s.refresh)

	return nil
}

func (s *Scheduler) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(s.baseCtx); err != nil {
				s.logger.Error("Failed to refresh schedules", "error", err)
			}
		}
	}
}

// Refresh adds entries for new expressions and removes entries nobody uses anymore.
func (s *Scheduler) Refresh(ctx context.Context) error {
	workflows, err := s.workflows.ListActiveByTrigger(ctx, models.TriggerSchedule)
	if err != nil {
		return fmt.Errorf("failed to load scheduled workflows: %w", err)
	}

	wanted := make(map[string]struct{})

	for _, wf := range workflows {
		expr := cast.ToString(wf.TriggerConfig["cron"])
		if expr == "" {
			s.logger.WarnContext(ctx, "Scheduled workflow has no cron expression", "workflow_id", wf.ID)

			continue
		}

		wanted[expr] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return ErrNotStarted
	}

	for expr, id := range s.entries {
		if _, ok := wanted[expr]; !ok {
			s.cron.Remove(id)
			delete(s.entries, expr)
			s.logger.InfoContext(ctx, "Removed schedule", "cron", expr)
		}
	}

	for expr := range wanted {
		if _, ok := s.entries[expr]; ok {
			continue
		}

		id, err := s.cron.AddFunc(expr, func() { s.tick(expr) })
		if err != nil {
			s.logger.ErrorContext(ctx, "Invalid cron expression", "cron", expr, "error", err)

			continue
		}

		s.entries[expr] = id
		s.logger.InfoContext(ctx, "Added schedule", "cron", expr)
	}

	return nil
}

// Expressions lists the expressions currently scheduled.
func (s *Scheduler) Expressions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	exprs := make([]string, 0, len(s.entries))
	for expr := range s.entries {
		exprs = append(exprs, expr)
	}

	return exprs
}

// tick runs on the cron goroutine. Cron fires on whole seconds, so truncating the current
// time yields the same tick on every instance.
func (s *Scheduler) tick(expr string) {
	if err := s.Fire(s.baseCtx, expr, s.now().Truncate(time.Second)); err != nil {
		s.logger.Error("Scheduled tick failed", "cron", expr, "error", err)
	}
}

// Fire dispatches one tick of expr unless another instance already holds its lease.
func (s *Scheduler) Fire(ctx context.Context, expr string, scheduledAt time.Time) error {
	key := "schedule:" + expr + ":" + strconv.FormatInt(scheduledAt.Unix(), 10)

	acquired, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return err
	}

	if !acquired {
		s.logger.DebugContext(ctx, "Tick already dispatched", "cron", expr, "scheduled_at", scheduledAt)

		return nil
	}

	s.logger.InfoContext(ctx, "Dispatching scheduled tick", "cron", expr, "scheduled_at", scheduledAt)

	return s.callback(ctx, string(models.TriggerSchedule), map[string]any{
		"cron":         expr,
		"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
	})
}

// Stop halts the refresh loop and waits for running ticks or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	runner := s.cron
	cancel := s.cancel
	s.mu.Unlock()

	if runner == nil {
		return nil
	}

	cancel()
	s.wg.Wait()

	select {
	case <-runner.Stop().Done():
		s.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes robfig/cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
