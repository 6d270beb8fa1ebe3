package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/countyops/countysync/internal/data"
	domainauth "github.com/countyops/countysync/internal/domain/auth"
	"github.com/countyops/countysync/internal/domain/model"
	apperrors "github.com/countyops/countysync/internal/errors"
	"github.com/countyops/countysync/internal/plugin"
)

var (
	userAssessor = domainauth.User{Username: "mlopez", Role: domainauth.RoleAssessor}
	userStaff    = domainauth.User{Username: "jchen", Role: domainauth.RoleStaff}
	userAdmin    = domainauth.User{Username: "rpatel", Role: domainauth.RoleITAdmin}
	userAuditor  = domainauth.User{Username: "asmith", Role: domainauth.RoleAuditor}
)

// stubRunner is a controllable plugin.Runner for orchestrator tests.
type stubRunner struct {
	mu          sync.Mutex
	submitErr   error
	executeFn   func(ctx context.Context, h plugin.Handle) (json.RawMessage, error)
	cancelFn    func(ctx context.Context, h plugin.Handle) error
	cancelCalls int
}

func (r *stubRunner) Submit(_ context.Context, params json.RawMessage) (plugin.Handle, error) {
	if r.submitErr != nil {
		return nil, r.submitErr
	}
	return params, nil
}

func (r *stubRunner) Execute(ctx context.Context, h plugin.Handle) (json.RawMessage, error) {
	if r.executeFn != nil {
		return r.executeFn(ctx, h)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (r *stubRunner) Cancel(ctx context.Context, h plugin.Handle) error {
	r.mu.Lock()
	r.cancelCalls++
	r.mu.Unlock()
	if r.cancelFn != nil {
		return r.cancelFn(ctx, h)
	}
	return nil
}

func (r *stubRunner) cancelled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelCalls
}

const testPlugin = "gis-export"

func newTestOrchestrator(t *testing.T, runner plugin.Runner, timeout time.Duration) (*Orchestrator, *data.MemoryStore) {
	t.Helper()

	registry := plugin.NewRegistry()
	registry.MustRegister(plugin.Descriptor{
		Name:    testPlugin,
		Version: "1.0.0",
		Action:  domainauth.ActionExport,
		Timeout: timeout,
		Runner:  runner,
	})
	registry.Freeze()

	store := data.NewMemoryStore()
	orch, err := NewOrchestrator(OrchestratorOptions{
		Store:    store,
		Registry: registry,
	})
	require.NoError(t, err)
	return orch, store
}

func waitForStatus(t *testing.T, store *data.MemoryStore, id string, want model.JobStatus) *model.Job {
	t.Helper()

	var job *model.Job
	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestNewOrchestratorRequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorOptions{Registry: plugin.NewRegistry()})
	require.ErrorContains(t, err, "JobStore")

	_, err = NewOrchestrator(OrchestratorOptions{Store: data.NewMemoryStore()})
	require.ErrorContains(t, err, "Registry")
}

func TestSubmitRunsJobToSuccess(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, json.RawMessage(`{"county":"Benton"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, userAssessor.Username, job.RequestedBy)

	done := waitForStatus(t, store, job.ID, model.JobStatusSuccess)
	assert.JSONEq(t, `{"ok":true}`, string(done.Result))
	assert.Nil(t, done.Error)
}

func TestSubmitForbiddenLeavesNoRecord(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	// Staff carries {view, upload}, not export.
	_, err := orch.Submit(ctx, userStaff, testPlugin, nil)
	require.True(t, apperrors.IsForbidden(err), "got %v", err)

	jobs, err := store.List(ctx, model.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitUnknownPlugin(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &stubRunner{}, 0)

	_, err := orch.Submit(context.Background(), userAdmin, "parcel-teleporter", nil)
	require.True(t, apperrors.IsUnknownPlugin(err), "got %v", err)
}

func TestSubmitRejectedParametersLeaveNoRecord(t *testing.T) {
	runner := &stubRunner{submitErr: errors.New("county is required")}
	orch, store := newTestOrchestrator(t, runner, 0)
	ctx := context.Background()

	_, err := orch.Submit(ctx, userAssessor, testPlugin, json.RawMessage(`{}`))
	require.True(t, apperrors.IsValidation(err), "got %v", err)

	jobs, err := store.List(ctx, model.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestExecutionErrorRecordedAsFailed(t *testing.T) {
	runner := &stubRunner{
		executeFn: func(context.Context, plugin.Handle) (json.RawMessage, error) {
			return nil, errors.New("shapefile writer: disk full")
		},
	}
	orch, store := newTestOrchestrator(t, runner, 0)

	job, err := orch.Submit(context.Background(), userAssessor, testPlugin, nil)
	require.NoError(t, err)

	failed := waitForStatus(t, store, job.ID, model.JobStatusFailed)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "disk full")
	assert.Nil(t, failed.Result)
}

func TestPluginPanicIsIsolated(t *testing.T) {
	runner := &stubRunner{
		executeFn: func(context.Context, plugin.Handle) (json.RawMessage, error) {
			panic("index out of range")
		},
	}
	orch, store := newTestOrchestrator(t, runner, 0)

	job, err := orch.Submit(context.Background(), userAssessor, testPlugin, nil)
	require.NoError(t, err)

	failed := waitForStatus(t, store, job.ID, model.JobStatusFailed)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "plugin panic")

	// The orchestrator survived; it still accepts work.
	_, err = orch.Submit(context.Background(), userAssessor, testPlugin, nil)
	require.NoError(t, err)
}

func TestExecutionTimeout(t *testing.T) {
	runner := &stubRunner{
		executeFn: func(ctx context.Context, _ plugin.Handle) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	orch, store := newTestOrchestrator(t, runner, 30*time.Millisecond)

	job, err := orch.Submit(context.Background(), userAssessor, testPlugin, nil)
	require.NoError(t, err)

	failed := waitForStatus(t, store, job.ID, model.JobStatusFailed)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "budget")
	assert.GreaterOrEqual(t, runner.cancelled(), 1, "cancel hook should get a best-effort call")
}

func TestStatusOwnershipAndOverride(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusSuccess)

	// Owner reads their own job.
	got, err := orch.Status(ctx, userAssessor, testPlugin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	// A different non-admin user is denied, even with view permission.
	_, err = orch.Status(ctx, userAuditor, testPlugin, job.ID)
	require.True(t, apperrors.IsForbidden(err), "got %v", err)

	// The administrative override sees everything.
	_, err = orch.Status(ctx, userAdmin, testPlugin, job.ID)
	require.NoError(t, err)
}

func TestStatusUnknownJob(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &stubRunner{}, 0)

	for _, user := range []domainauth.User{userAssessor, userAdmin, userStaff} {
		_, err := orch.Status(context.Background(), user, testPlugin, "1fd8c0e2-55be-4df1-b2a3-1a4d0b1f9a55")
		require.True(t, apperrors.IsNotFound(err), "role %s got %v", user.Role, err)
	}
}

func TestStatusViewCheckRunsBeforeStoreRead(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &stubRunner{}, 0)
	orch.matrix = domainauth.NewMatrix(map[domainauth.Role][]domainauth.Action{
		domainauth.RoleStaff: {domainauth.ActionUpload},
	})

	// A role with no view permission gets Forbidden even for ids that do
	// not exist, so it cannot probe which ids are real.
	_, err := orch.Status(context.Background(), userStaff, testPlugin, "no-such-id")
	require.True(t, apperrors.IsForbidden(err), "got %v", err)
}

func TestStatusWrongPluginPathIsNotFound(t *testing.T) {
	runner := &stubRunner{}
	registry := plugin.NewRegistry()
	registry.MustRegister(plugin.Descriptor{
		Name: testPlugin, Action: domainauth.ActionExport, Runner: runner,
	})
	registry.MustRegister(plugin.Descriptor{
		Name: "market-analysis", Action: domainauth.ActionDiff, Runner: runner,
	})
	registry.Freeze()

	store := data.NewMemoryStore()
	orch, err := NewOrchestrator(OrchestratorOptions{Store: store, Registry: registry})
	require.NoError(t, err)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusSuccess)

	_, err = orch.Status(ctx, userAssessor, "market-analysis", job.ID)
	require.True(t, apperrors.IsNotFound(err), "got %v", err)
}

func TestResultNotReadyThenReady(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{
		executeFn: func(ctx context.Context, _ plugin.Handle) (json.RawMessage, error) {
			select {
			case <-release:
				return json.RawMessage(`{"layers":["parcels","zoning"],"feature_count":12}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	orch, store := newTestOrchestrator(t, runner, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusRunning)

	_, err = orch.Result(ctx, userAssessor, testPlugin, job.ID, "")
	require.True(t, apperrors.IsConflict(err), "got %v", err)

	close(release)
	waitForStatus(t, store, job.ID, model.JobStatusSuccess)

	got, err := orch.Result(ctx, userAssessor, testPlugin, job.ID, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"layers":["parcels","zoning"],"feature_count":12}`, string(got.Result))
}

func TestResultProjection(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{
		executeFn: func(context.Context, plugin.Handle) (json.RawMessage, error) {
			return json.RawMessage(`{"layers":["parcels","zoning"],"feature_count":12}`), nil
		},
	}, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusSuccess)

	got, err := orch.Result(ctx, userAssessor, testPlugin, job.ID, "layers[0]")
	require.NoError(t, err)
	assert.JSONEq(t, `"parcels"`, string(got.Result))

	_, err = orch.Result(ctx, userAssessor, testPlugin, job.ID, "layers[")
	require.True(t, apperrors.IsValidation(err), "got %v", err)

	// The projection never touches the stored record.
	stored, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"layers":["parcels","zoning"],"feature_count":12}`, string(stored.Result))
}

func TestResultOfFailedJobIsConflict(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{
		executeFn: func(context.Context, plugin.Handle) (json.RawMessage, error) {
			return nil, errors.New("projection mismatch")
		},
	}, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusFailed)

	_, err = orch.Result(ctx, userAssessor, testPlugin, job.ID, "")
	require.True(t, apperrors.IsConflict(err), "got %v", err)
	assert.Contains(t, err.Error(), "projection mismatch")
}

func TestCancelPendingJob(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	// Created directly in the store, so no dispatcher is racing for it.
	job, err := store.Create(ctx, &model.SubmitRequest{
		Plugin:      testPlugin,
		RequestedBy: userAssessor.Username,
	})
	require.NoError(t, err)

	cancelled, err := orch.Cancel(ctx, userAssessor, testPlugin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)
}

func TestCancelRunningJobWithAck(t *testing.T) {
	stop := make(chan struct{})
	runner := &stubRunner{
		executeFn: func(ctx context.Context, _ plugin.Handle) (json.RawMessage, error) {
			select {
			case <-stop:
				return nil, errors.New("cancelled")
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		cancelFn: func(context.Context, plugin.Handle) error {
			close(stop)
			return nil
		},
	}
	orch, store := newTestOrchestrator(t, runner, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusRunning)

	cancelled, err := orch.Cancel(ctx, userAssessor, testPlugin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)

	// The dispatcher's late FAILED outcome must be discarded.
	require.NoError(t, orch.Shutdown(ctx))
	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
}

func TestCancelDeclinedByPluginIsNoOp(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{
		executeFn: func(ctx context.Context, _ plugin.Handle) (json.RawMessage, error) {
			select {
			case <-release:
				return json.RawMessage(`{"done":true}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		cancelFn: func(context.Context, plugin.Handle) error {
			return errors.New("point of no return")
		},
	}
	orch, store := newTestOrchestrator(t, runner, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusRunning)

	got, err := orch.Cancel(ctx, userAssessor, testPlugin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status, "declined cancel reports the job as still running")

	// The job completes naturally.
	close(release)
	final := waitForStatus(t, store, job.ID, model.JobStatusSuccess)
	assert.JSONEq(t, `{"done":true}`, string(final.Result))
}

func TestCancelTerminalJobIsIdempotent(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusSuccess)

	got, err := orch.Cancel(ctx, userAssessor, testPlugin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuccess, got.Status)
}

func TestCancelPermissions(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusSuccess)

	// Staff lacks the export action.
	_, err = orch.Cancel(ctx, userStaff, testPlugin, job.ID)
	require.True(t, apperrors.IsForbidden(err), "got %v", err)

	// Auditor has view but neither export nor the override, and does not
	// own the job.
	_, err = orch.Cancel(ctx, userAuditor, testPlugin, job.ID)
	require.True(t, apperrors.IsForbidden(err), "got %v", err)

	// The override may cancel anyone's job.
	_, err = orch.Cancel(ctx, userAdmin, testPlugin, job.ID)
	require.NoError(t, err)
}

func TestListScopesToOwnerWithoutOverride(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	mine, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	theirs, err := orch.Submit(ctx, userAdmin, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, mine.ID, model.JobStatusSuccess)
	waitForStatus(t, store, theirs.ID, model.JobStatusSuccess)

	jobs, err := orch.List(ctx, userAssessor, testPlugin, model.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, mine.ID, jobs[0].ID)

	all, err := orch.List(ctx, userAdmin, testPlugin, model.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// A filter naming another user is overridden for non-admins.
	sneaky, err := orch.List(ctx, userAssessor, testPlugin, model.JobFilter{RequestedBy: userAdmin.Username})
	require.NoError(t, err)
	require.Len(t, sneaky, 1)
	assert.Equal(t, mine.ID, sneaky[0].ID)
}

func TestConcurrentSubmissionsGetDistinctJobs(t *testing.T) {
	orch, store := newTestOrchestrator(t, &stubRunner{}, 0)
	ctx := context.Background()

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := orch.Submit(ctx, userAdmin, testPlugin, nil)
			assert.NoError(t, err)
			ids <- job.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate job id %s", id)
		seen[id] = true
	}
	require.Len(t, seen, n)

	for id := range seen {
		waitForStatus(t, store, id, model.JobStatusSuccess)
	}
}

func TestShutdownWaitsForDispatch(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{
		executeFn: func(ctx context.Context, _ plugin.Handle) (json.RawMessage, error) {
			select {
			case <-release:
				return json.RawMessage(`{}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	orch, store := newTestOrchestrator(t, runner, 0)
	ctx := context.Background()

	job, err := orch.Submit(ctx, userAssessor, testPlugin, nil)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, model.JobStatusRunning)

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, orch.Shutdown(shortCtx), "shutdown should time out while work is in flight")

	close(release)
	require.NoError(t, orch.Shutdown(ctx))
	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuccess, final.Status)
}
