package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence/file"
	"github.com/fractal-assets/flowengine/pkg/registry"
	"github.com/fractal-assets/flowengine/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinitions(t *testing.T, definitions any) string {
	t.Helper()

	raw, err := json.Marshal(definitions)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "workflows.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCommand()
	root.Writer = &out

	err := root.Run(context.Background(), append([]string{"flowengine"}, args...))

	return out.String(), err
}

func onboardingWorkflow(id string) *models.Workflow {
	return testutil.CreateTestWorkflow([]*models.Step{
		testutil.ActionStep("wait", "delay", map[string]any{"duration": 0}, "notify"),
		testutil.ActionStep("notify", "send_notification", map[string]any{
			"user_id": "{{user_id}}",
			"message": "Welcome aboard",
		}, ""),
	}, testutil.WithID(id))
}

func TestDecodeWorkflows(t *testing.T) {
	single, err := decodeWorkflows(strings.NewReader(`{"id":"wf-1","name":"Single"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "wf-1", single[0].ID)

	many, err := decodeWorkflows(strings.NewReader("  \n[{\"id\":\"a\"},{\"id\":\"b\"}]"))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = decodeWorkflows(strings.NewReader(`{"id":`))
	require.Error(t, err)
}

func TestCheckWorkflow(t *testing.T) {
	reg := registry.NewRegistry(log.Discard())

	wf := onboardingWorkflow("wf-1")
	wf.Timeout = 0

	err := checkWorkflow(reg, wf)
	require.ErrorIs(t, err, registry.ErrUnknownAction)
	assert.Contains(t, err.Error(), "step wait")
	assert.Contains(t, err.Error(), "step notify")
	assert.Equal(t, models.DefaultTimeoutSeconds, wf.Timeout, "defaults are applied before validation")
}

func TestWorkflowsImport(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	path := writeDefinitions(t, []*models.Workflow{onboardingWorkflow("wf-a"), onboardingWorkflow("wf-b")})

	out, err := runCLI(t, "workflows", "import", "--database-url", "file://"+dataDir, "--plugins-path", "", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported Test Workflow (wf-a)")
	assert.Contains(t, out, "imported Test Workflow (wf-b)")

	store, err := file.NewPersistence(dataDir)
	require.NoError(t, err)

	all, err := store.WorkflowRepository().GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWorkflowsValidate_RejectsInvalidFile(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")

	broken := onboardingWorkflow("wf-bad")
	broken.Steps[0].NextStep = "nowhere"

	path := writeDefinitions(t, []*models.Workflow{onboardingWorkflow("wf-good"), broken})

	out, err := runCLI(t, "workflows", "validate", "--database-url", "file://"+dataDir, "--plugins-path", "", path)
	require.ErrorIs(t, err, ErrInvalidWorkflows)
	assert.Contains(t, out, "ok      Test Workflow (wf-good): 2 steps")
	assert.Contains(t, out, "INVALID Test Workflow (wf-bad)")

	_, err = runCLI(t, "workflows", "validate", "--database-url", "file://"+dataDir)
	require.ErrorIs(t, err, ErrMissingFile)
}

func TestEventsPublish(t *testing.T) {
	out, err := runCLI(t, "events", "publish", "--type", "deal_status_changed", "--payload", `{"deal_id":"d-1"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "published deal_status_changed")

	_, err = runCLI(t, "events", "publish", "--type", "manual")
	require.Error(t, err)

	_, err = runCLI(t, "events", "publish", "--type", "payout_created", "--payload", "[1]")
	require.ErrorContains(t, err, "invalid payload")
}

func TestServer_RoutesDomainEvents(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	server, err := NewServer(ctx, ServerConfig{
		Port:            0,
		DatabaseURL:     "file://" + dataDir,
		EventBus:        "gochannel",
		ShutdownTimeout: 5 * time.Second,
	}, log.Discard())
	require.NoError(t, err)

	wf := onboardingWorkflow("wf-onboarding")
	wf.TriggerType = models.TriggerKYCStatusChanged
	wf.TriggerConfig = map[string]any{"kyc_status": "approved"}
	require.NoError(t, server.persistence.WorkflowRepository().Save(ctx, wf))

	_, err = server.Start(ctx)
	require.NoError(t, err)

	port := server.ln.Addr().(*net.TCPAddr).Port

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/livez", port))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, server.eventBus.PublishDomain(ctx, events.NewDomainEvent("kyc_status_changed", map[string]any{
		"user_id":    "u-1",
		"kyc_status": "approved",
	})))

	var execution *models.Execution

	assert.Eventually(t, func() bool {
		executions, err := server.persistence.ExecutionRepository().ListByWorkflow(ctx, wf.ID)
		if err != nil || len(executions) != 1 {
			return false
		}

		execution = executions[0]

		return execution.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)

	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.NotNil(t, execution.TriggerUserID)
	assert.Equal(t, "u-1", *execution.TriggerUserID)
	assert.Equal(t, "queued", execution.StepResults["notify"].(map[string]any)["status"])

	require.NoError(t, server.Shutdown(ctx))
}
