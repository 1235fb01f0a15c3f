package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fractal-assets/flowengine/pkg/actions/delay"
	"github.com/fractal-assets/flowengine/pkg/conditions"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence/file"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/fractal-assets/flowengine/pkg/registry"
	"github.com/fractal-assets/flowengine/pkg/workflow"
	"github.com/stretchr/testify/require"
)

var errStepBoom = errors.New("boom")

// stubFactory builds actions whose behavior is a plain function.
type stubFactory struct {
	id  string
	run func(ctx context.Context, config map[string]any, input protocol.ActionInput) (map[string]any, error)
}

func (f *stubFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return &stubAction{config: config, run: f.run}, nil
}

func (f *stubFactory) ID() string             { return f.id }
func (f *stubFactory) Name() string           { return f.id }
func (f *stubFactory) Description() string    { return f.id }
func (f *stubFactory) Schema() map[string]any { return nil }

type stubAction struct {
	config map[string]any
	run    func(ctx context.Context, config map[string]any, input protocol.ActionInput) (map[string]any, error)
}

func (a *stubAction) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	return a.run(ctx, a.config, input)
}

// echo returns its resolved config.
func echoFactory() *stubFactory {
	return &stubFactory{id: "echo", run: func(_ context.Context, config map[string]any, input protocol.ActionInput) (map[string]any, error) {
		input.Log.Log(models.LogLevelInfo, "echo "+input.StepID, nil)

		return config, nil
	}}
}

func failFactory() *stubFactory {
	return &stubFactory{id: "fail", run: func(context.Context, map[string]any, protocol.ActionInput) (map[string]any, error) {
		return nil, errStepBoom
	}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// recordingPublisher keeps every published event type.
type recordingPublisher struct {
	mu    sync.Mutex
	types []events.EventType
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.types = append(p.types, event.GetType())

	return nil
}

func (p *recordingPublisher) Types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]events.EventType(nil), p.types...)
}

type env struct {
	store      *file.Persistence
	registry   *registry.Registry
	engine     *workflow.Engine
	supervisor *workflow.Supervisor
	listener   *workflow.Listener
	publisher  *recordingPublisher
}

func newEnv(t *testing.T, opts ...workflow.EngineOption) *env {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	logger := log.Discard()

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(echoFactory())
	reg.RegisterAction(failFactory())
	reg.RegisterAction(delay.NewActionFactory())

	publisher := &recordingPublisher{}
	opts = append([]workflow.EngineOption{workflow.WithPublisher(publisher)}, opts...)

	engine := workflow.NewEngine(store.ExecutionRepository(), reg, conditions.NewEvaluator(logger), logger, opts...)
	supervisor := workflow.NewSupervisor(engine, store.WorkflowRepository(), store.ExecutionRepository(), logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = supervisor.Shutdown(ctx)
	})

	return &env{
		store:      store,
		registry:   reg,
		engine:     engine,
		supervisor: supervisor,
		listener:   workflow.NewListener(store.WorkflowRepository(), supervisor, logger),
		publisher:  publisher,
	}
}

func (e *env) save(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, e.store.WorkflowRepository().Save(context.Background(), wf))

	return wf
}

// wait blocks until the execution is terminal and its goroutine has exited.
func (e *env) wait(t *testing.T, executionID string) *models.Execution {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	execution, err := e.supervisor.Wait(ctx, executionID, 5*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.supervisor.InFlight() == 0 }, 5*time.Second, 5*time.Millisecond)

	return execution
}

func (e *env) workflowByID(t *testing.T, id string) *models.Workflow {
	t.Helper()

	wf, err := e.store.WorkflowRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return wf
}

func ptr(s string) *string {
	return &s
}
