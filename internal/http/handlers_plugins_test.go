package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/countyops/countysync/internal/adapters/staticauth"
	"github.com/countyops/countysync/internal/data"
	domainauth "github.com/countyops/countysync/internal/domain/auth"
	"github.com/countyops/countysync/internal/domain/model"
	"github.com/countyops/countysync/internal/plugin"
	"github.com/countyops/countysync/internal/service"
)

// echoRunner completes immediately, echoing its parameters as the result.
type echoRunner struct{}

func (echoRunner) Submit(_ context.Context, params json.RawMessage) (plugin.Handle, error) {
	return params, nil
}

func (echoRunner) Execute(_ context.Context, h plugin.Handle) (json.RawMessage, error) {
	params, _ := h.(json.RawMessage)
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return json.RawMessage(fmt.Sprintf(`{"echo":%s}`, params)), nil
}

func (echoRunner) Cancel(context.Context, plugin.Handle) error { return nil }

type apiHarness struct {
	server *httptest.Server
	store  *data.MemoryStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	registry := plugin.NewRegistry()
	registry.MustRegister(plugin.Descriptor{
		Name:    "gis-export",
		Version: "1.2.0",
		Action:  domainauth.ActionExport,
		Runner:  echoRunner{},
	})
	registry.Freeze()

	store := data.NewMemoryStore()
	orch, err := service.NewOrchestrator(service.OrchestratorOptions{
		Store:    store,
		Registry: registry,
	})
	require.NoError(t, err)

	resolver := staticauth.NewResolver(map[string]domainauth.User{
		"assessor-token": {Username: "mlopez", Role: domainauth.RoleAssessor},
		"staff-token":    {Username: "jchen", Role: domainauth.RoleStaff},
		"admin-token":    {Username: "rpatel", Role: domainauth.RoleITAdmin},
	})

	server := httptest.NewServer(NewRouter(RouterServices{
		Orchestrator: orch,
		Registry:     registry,
		Resolver:     resolver,
	}))
	t.Cleanup(server.Close)

	return &apiHarness{server: server, store: store}
}

func (h *apiHarness) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func (h *apiHarness) waitForStatus(t *testing.T, id string, want model.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := h.store.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunAcceptsJob(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run",
		"assessor-token", `{"county":"Benton","format":"shapefile"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "PENDING", payload["status"])
	assert.NotEmpty(t, payload["job_id"])
}

func TestRunWithoutCredential(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", payload["error"])
}

func TestRunWithUnknownCredential(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "bogus", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", payload["error"])
}

func TestRunForbiddenForStaff(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "staff-token", `{}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", payload["error"])

	jobs, err := h.store.List(context.Background(), model.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "a forbidden submission must not create a job record")
}

func TestRunUnknownPlugin(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/plugins/v1/parcel-teleporter/run", "admin-token", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_plugin", payload["error"])
}

func TestRunRejectsMalformedParameters(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "assessor-token", `{"county":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", payload["error"])
}

func TestStatusLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	_, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "assessor-token", `{"county":"Benton"}`)
	jobID, _ := payload["job_id"].(string)
	require.NotEmpty(t, jobID)

	h.waitForStatus(t, jobID, model.JobStatusSuccess)

	resp, status := h.do(t, http.MethodGet, "/plugins/v1/gis-export/status/"+jobID, "assessor-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", status["status"])
	assert.Equal(t, jobID, status["job_id"])
	assert.NotContains(t, status, "result", "status endpoint never carries the result payload")
}

func TestStatusUnknownJobIs404ForAnyRole(t *testing.T) {
	h := newAPIHarness(t)

	for _, token := range []string{"assessor-token", "staff-token", "admin-token"} {
		resp, payload := h.do(t, http.MethodGet,
			"/plugins/v1/gis-export/status/4c0e7f0a-b5a8-47be-9f0f-0ddba13e8f00", token, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "token %s", token)
		assert.Equal(t, "not_found", payload["error"])
	}
}

func TestStatusOwnershipEnforced(t *testing.T) {
	h := newAPIHarness(t)

	_, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "admin-token", `{}`)
	jobID, _ := payload["job_id"].(string)
	h.waitForStatus(t, jobID, model.JobStatusSuccess)

	resp, errPayload := h.do(t, http.MethodGet, "/plugins/v1/gis-export/status/"+jobID, "assessor-token", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", errPayload["error"])

	resp, _ = h.do(t, http.MethodGet, "/plugins/v1/gis-export/status/"+jobID, "admin-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResultReadyAndProjection(t *testing.T) {
	h := newAPIHarness(t)

	_, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run",
		"assessor-token", `{"county":"Benton","format":"geojson"}`)
	jobID, _ := payload["job_id"].(string)
	h.waitForStatus(t, jobID, model.JobStatusSuccess)

	resp, result := h.do(t, http.MethodGet, "/plugins/v1/gis-export/result/"+jobID, "assessor-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", result["status"])
	echo, _ := result["result"].(map[string]any)
	require.NotNil(t, echo["echo"])

	resp, projected := h.do(t, http.MethodGet,
		"/plugins/v1/gis-export/result/"+jobID+"?query=echo.county", "assessor-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Benton", projected["result"])

	resp, bad := h.do(t, http.MethodGet,
		"/plugins/v1/gis-export/result/"+jobID+"?query=echo%5B", "assessor-token", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", bad["error"])
}

func TestResultNotReadyIs409(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()

	// A PENDING record created directly in the store never gets dispatched,
	// so its result is reliably not ready.
	job, err := h.store.Create(ctx, &model.SubmitRequest{
		Plugin:      "gis-export",
		RequestedBy: "mlopez",
	})
	require.NoError(t, err)

	resp, payload := h.do(t, http.MethodGet, "/plugins/v1/gis-export/result/"+job.ID, "assessor-token", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", payload["error"])
}

func TestCancelPendingViaAPI(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()

	job, err := h.store.Create(ctx, &model.SubmitRequest{
		Plugin:      "gis-export",
		RequestedBy: "mlopez",
	})
	require.NoError(t, err)

	resp, payload := h.do(t, http.MethodPost, "/plugins/v1/gis-export/cancel/"+job.ID, "assessor-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", payload["status"])
}

func TestListJobsScopedToCaller(t *testing.T) {
	h := newAPIHarness(t)

	_, mine := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "assessor-token", `{"n":1}`)
	_, theirs := h.do(t, http.MethodPost, "/plugins/v1/gis-export/run", "admin-token", `{"n":2}`)
	mineID, _ := mine["job_id"].(string)
	theirsID, _ := theirs["job_id"].(string)
	h.waitForStatus(t, mineID, model.JobStatusSuccess)
	h.waitForStatus(t, theirsID, model.JobStatusSuccess)

	resp, payload := h.do(t, http.MethodGet, "/plugins/v1/gis-export/jobs", "assessor-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	jobs, _ := payload["jobs"].([]any)
	require.Len(t, jobs, 1)

	resp, payload = h.do(t, http.MethodGet, "/plugins/v1/gis-export/jobs", "admin-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	jobs, _ = payload["jobs"].([]any)
	assert.Len(t, jobs, 2)

	resp, payload = h.do(t, http.MethodGet, "/plugins/v1/gis-export/jobs?mine=true", "admin-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	jobs, _ = payload["jobs"].([]any)
	assert.Len(t, jobs, 1)
}

func TestListJobsInvalidFilters(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodGet, "/plugins/v1/gis-export/jobs?status=SLEEPING", "assessor-token", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", payload["error"])

	resp, _ = h.do(t, http.MethodGet, "/plugins/v1/gis-export/jobs?limit=-1", "assessor-token", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPluginHealthRequiresNoAuth(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodGet, "/plugins/v1/gis-export/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, "gis-export", payload["plugin"])
	assert.Equal(t, "1.2.0", payload["version"])

	resp, payload = h.do(t, http.MethodGet, "/plugins/v1/missing/health", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_plugin", payload["error"])
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)

	resp, payload := h.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", payload["status"])
}
