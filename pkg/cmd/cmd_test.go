package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fractal-assets/flowengine/pkg/locker"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/mocks"
	"github.com/fractal-assets/flowengine/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://u:p@localhost:5432/flowengine", "postgres"},
		{"postgresql://localhost/flowengine", "postgresql"},
		{"file:///var/lib/flowengine", "file"},
		{"./data", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, parsePersistenceProvider(tt.url))
		})
	}
}

func TestNewPersistence_File(t *testing.T) {
	dir := t.TempDir()

	store, err := NewPersistence(context.Background(), log.Discard(), "file://"+filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	assert.IsType(t, &file.Persistence{}, store)
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("gochannel", "", log.Discard())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", " , ", log.Discard())
	require.Error(t, err)

	_, err = NewEventBus("rabbitmq", "", log.Discard())
	require.ErrorContains(t, err, "unsupported event bus provider")
}

func TestNewRegistry_RegistersNativeActions(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	reg, err := NewRegistry(log.Discard(), filepath.Join(t.TempDir(), "plugins"), store, &mocks.MockEventBus{})
	require.NoError(t, err)

	for _, action := range []string{"send_email", "webhook", "update_deal_status", "delay", "send_notification", "create_document"} {
		assert.True(t, reg.HasAction(action), action)
	}
}

func TestNewLocker_Memory(t *testing.T) {
	l, err := NewLocker(context.Background(), log.Discard(), "")
	require.NoError(t, err)
	assert.IsType(t, &locker.MemoryLocker{}, l)
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), false)
	require.NoError(t, err)
	assert.NotNil(t, tracer)
	require.NoError(t, shutdown(context.Background()))
}
