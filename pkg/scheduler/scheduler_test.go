package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fractal-assets/flowengine/pkg/locker"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence/file"
	"github.com/fractal-assets/flowengine/pkg/scheduler"
	"github.com/fractal-assets/flowengine/pkg/testutil"
	"github.com/fractal-assets/flowengine/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	eventType string
	payload   map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) callback(_ context.Context, eventType string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, recordedEvent{eventType: eventType, payload: payload})

	return nil
}

func (r *recorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]recordedEvent(nil), r.events...)
}

func scheduledWorkflow(expr string, opts ...func(*models.Workflow)) *models.Workflow {
	steps := []*models.Step{testutil.ActionStep("A", "delay", map[string]any{"duration": 0}, "")}

	return testutil.CreateTestWorkflow(steps,
		append([]func(*models.Workflow){testutil.WithTrigger(models.TriggerSchedule, map[string]any{"cron": expr})}, opts...)...)
}

func newStore(t *testing.T) *file.Persistence {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	return store
}

func startScheduler(t *testing.T, s *scheduler.Scheduler, callback func(context.Context, string, map[string]any) error) {
	t.Helper()

	require.NoError(t, s.Start(context.Background(), callback))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		require.NoError(t, s.Stop(ctx))
	})
}

func TestScheduler_RefreshTracksDistinctExpressions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := store.WorkflowRepository()

	hourly := scheduledWorkflow("0 * * * *")
	require.NoError(t, repo.Save(ctx, hourly))
	require.NoError(t, repo.Save(ctx, scheduledWorkflow("0 * * * *")))
	require.NoError(t, repo.Save(ctx, scheduledWorkflow("*/5 * * * *")))
	require.NoError(t, repo.Save(ctx, scheduledWorkflow("30 9 * * 1", testutil.WithStatus(models.WorkflowStatusInactive))))

	s := scheduler.New(repo, locker.NewMemoryLocker(), log.Discard(), scheduler.WithRefreshInterval(time.Hour))
	rec := &recorder{}
	startScheduler(t, s, rec.callback)

	assert.ElementsMatch(t, []string{"0 * * * *", "*/5 * * * *"}, s.Expressions())

	require.NoError(t, repo.Delete(ctx, hourly.ID))
	require.NoError(t, s.Refresh(ctx))
	assert.ElementsMatch(t, []string{"0 * * * *", "*/5 * * * *"}, s.Expressions(), "expression still used by another workflow")

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)

	for _, wf := range all {
		if wf.TriggerConfig["cron"] == "0 * * * *" {
			wf.Status = models.WorkflowStatusInactive
			require.NoError(t, repo.Save(ctx, wf))
		}
	}

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, []string{"*/5 * * * *"}, s.Expressions())
}

func TestScheduler_FireOncePerTick(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	shared := locker.NewMemoryLocker()
	rec := &recorder{}

	first := scheduler.New(store.WorkflowRepository(), shared, log.Discard(), scheduler.WithRefreshInterval(time.Hour))
	second := scheduler.New(store.WorkflowRepository(), shared, log.Discard(), scheduler.WithRefreshInterval(time.Hour))
	startScheduler(t, first, rec.callback)
	startScheduler(t, second, rec.callback)

	tick := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, first.Fire(ctx, "0 9 * * 1", tick))
	require.NoError(t, second.Fire(ctx, "0 9 * * 1", tick))
	require.NoError(t, second.Fire(ctx, "0 9 * * 1", tick.Add(7*24*time.Hour)))

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "schedule", events[0].eventType)
	assert.Equal(t, map[string]any{"cron": "0 9 * * 1", "scheduled_at": "2026-03-02T09:00:00Z"}, events[0].payload)
	assert.Equal(t, "2026-03-09T09:00:00Z", events[1].payload["scheduled_at"])
}

type triggered struct {
	mu  sync.Mutex
	ids []string
}

func (tr *triggered) Trigger(
	_ context.Context,
	wf *models.Workflow,
	_ *string,
	_ map[string]any,
	_ map[string]any,
) (*models.Execution, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.ids = append(tr.ids, wf.ID)

	return &models.Execution{WorkflowID: wf.ID}, nil
}

func TestScheduler_TickTriggersMatchingWorkflows(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := store.WorkflowRepository()

	daily := scheduledWorkflow("0 6 * * *")
	hourly := scheduledWorkflow("0 * * * *")
	require.NoError(t, repo.Save(ctx, daily))
	require.NoError(t, repo.Save(ctx, hourly))

	tr := &triggered{}
	listener := workflow.NewListener(repo, tr, log.Discard())

	s := scheduler.New(repo, locker.NewMemoryLocker(), log.Discard(), scheduler.WithRefreshInterval(time.Hour))
	startScheduler(t, s, listener.Handle)

	require.NoError(t, s.Fire(ctx, "0 6 * * *", time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)))

	assert.Equal(t, []string{daily.ID}, tr.ids)
}

func TestScheduler_CronRunnerFires(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.WorkflowRepository().Save(ctx, scheduledWorkflow("@every 1s")))

	rec := &recorder{}
	s := scheduler.New(store.WorkflowRepository(), locker.NewMemoryLocker(), log.Discard())
	startScheduler(t, s, rec.callback)

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, "@every 1s", rec.snapshot()[0].payload["cron"])
}

func TestScheduler_Lifecycle(t *testing.T) {
	store := newStore(t)
	s := scheduler.New(store.WorkflowRepository(), locker.NewMemoryLocker(), log.Discard())

	require.ErrorIs(t, s.Refresh(context.Background()), scheduler.ErrNotStarted)
	require.NoError(t, s.Stop(context.Background()), "stopping an idle scheduler is a no-op")

	rec := &recorder{}
	startScheduler(t, s, rec.callback)
	require.ErrorIs(t, s.Start(context.Background(), rec.callback), scheduler.ErrAlreadyStarted)
}
