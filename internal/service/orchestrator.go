// Package service contains the orchestration layer of the countysync job
// system: authorization, job lifecycle, asynchronous plugin dispatch and the
// lease reaper.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/countyops/countysync/internal/core"
	domainauth "github.com/countyops/countysync/internal/domain/auth"
	"github.com/countyops/countysync/internal/domain/model"
	apperrors "github.com/countyops/countysync/internal/errors"
	"github.com/countyops/countysync/internal/observability/metrics"
	"github.com/countyops/countysync/internal/observability/statsd"
	"github.com/countyops/countysync/internal/plugin"
)

// DefaultExecTimeout bounds a single plugin execution when neither the
// descriptor nor configuration says otherwise.
const DefaultExecTimeout = 10 * time.Minute

// cancelAckTimeout bounds the best-effort cancel hook call so a stuck plugin
// cannot hang the caller.
const cancelAckTimeout = 5 * time.Second

// OrchestratorOptions groups dependencies for the Orchestrator.
type OrchestratorOptions struct {
	Store          core.JobStore    // Required: job record store
	Registry       *plugin.Registry // Required: frozen plugin registry
	Matrix         *domainauth.Matrix
	Logger         *slog.Logger  // Optional: structured logger
	Metrics        statsd.Sink   // Optional: lifecycle metric sink
	DefaultTimeout time.Duration // Optional: fallback execution budget
}

// Orchestrator owns the job lifecycle: it authorizes submissions, creates
// records, dispatches plugin execution out-of-band and is the sole writer of
// job status, result and error.
//
// Plugin faults never propagate: Execute runs behind a recover boundary and
// every outcome is recorded on the job.
type Orchestrator struct {
	store          core.JobStore
	registry       *plugin.Registry
	matrix         *domainauth.Matrix
	logger         *slog.Logger
	metrics        statsd.Sink
	defaultTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightJob
	wg       sync.WaitGroup
}

// inflightJob tracks a dispatched job so a cancel request can reach its
// runner and stop its execution context.
type inflightJob struct {
	runner    plugin.Runner
	handle    plugin.Handle
	cancelRun context.CancelFunc
}

// NewOrchestrator constructs a new Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("plugin Registry is required")
	}

	matrix := opts.Matrix
	if matrix == nil {
		matrix = domainauth.DefaultMatrix()
	}

	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
	}

	return &Orchestrator{
		store:          opts.Store,
		registry:       opts.Registry,
		matrix:         matrix,
		logger:         logger,
		metrics:        opts.Metrics,
		defaultTimeout: timeout,
		inflight:       make(map[string]*inflightJob),
	}, nil
}

// MustNewOrchestrator constructs a new Orchestrator and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	svc, err := NewOrchestrator(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Orchestrator: %v", err))
	}
	return svc
}

// Submit authorizes the request, validates parameters with the plugin,
// creates a PENDING job record and dispatches execution out-of-band. The
// returned record is the caller's only handle on the work.
//
// A Forbidden or validation failure leaves no job record behind.
func (o *Orchestrator) Submit(
	ctx context.Context,
	user domainauth.User,
	pluginName string,
	params json.RawMessage,
) (*model.Job, error) {
	desc, err := o.registry.Get(pluginName)
	if err != nil {
		return nil, err
	}

	if !o.matrix.IsAllowed(user.Role, desc.Action) {
		if o.logger != nil {
			o.logger.InfoContext(ctx, "submission denied",
				"plugin", pluginName,
				"username", user.Username,
				"role", user.Role,
				"required_action", desc.Action,
			)
		}
		metrics.EmitSubmissionDenied(o.metrics, pluginName, string(user.Role))
		return nil, apperrors.Forbiddenf("role %q may not perform %q", user.Role, desc.Action)
	}

	handle, err := desc.Runner.Submit(ctx, params)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation,
			"plugin %q rejected parameters", pluginName)
	}

	job, err := o.store.Create(ctx, &model.SubmitRequest{
		Plugin:      pluginName,
		Parameters:  params,
		RequestedBy: user.Username,
	})
	if err != nil {
		return nil, err
	}

	if o.logger != nil {
		o.logger.InfoContext(ctx, "job accepted",
			"job_id", job.ID,
			"plugin", pluginName,
			"username", user.Username,
		)
	}
	metrics.EmitJobLifecycle(o.metrics, metrics.JobEvent{
		Plugin: pluginName,
		Status: string(model.JobStatusPending),
		Result: metrics.ResultAccepted,
	})

	o.dispatch(ctx, job, desc, handle)
	return job, nil
}

// dispatch spawns the execution goroutine for an accepted job. The goroutine
// runs on a context detached from the request so completion does not depend
// on the submitter staying connected.
func (o *Orchestrator) dispatch(ctx context.Context, job *model.Job, desc plugin.Descriptor, handle plugin.Handle) {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}

	runCtx, cancelRun := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	o.mu.Lock()
	o.inflight[job.ID] = &inflightJob{
		runner:    desc.Runner,
		handle:    handle,
		cancelRun: cancelRun,
	}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancelRun()
		defer o.forget(job.ID)
		o.run(runCtx, job.ID, desc, handle, timeout)
	}()
}

// run drives a single job from RUNNING to a terminal state. Everything the
// plugin does wrong, including panicking, ends as a FAILED record.
func (o *Orchestrator) run(
	ctx context.Context,
	jobID string,
	desc plugin.Descriptor,
	handle plugin.Handle,
	timeout time.Duration,
) {
	deadline := time.Now().Add(timeout)
	if _, err := o.store.UpdateStatus(ctx, jobID, model.JobStatusRunning, model.StatusUpdate{
		Deadline: &deadline,
	}); err != nil {
		if apperrors.IsInvalidTransition(err) {
			// Cancelled before dispatch got here. Release whatever the
			// plugin prepared at submit time.
			o.cancelQuietly(desc.Runner, handle, jobID)
			return
		}
		if o.logger != nil {
			o.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		}
		return
	}

	started := time.Now()
	result, execErr := o.execute(ctx, desc.Runner, handle)
	elapsed := time.Since(started)

	switch {
	case execErr == nil:
		if o.finish(jobID, model.JobStatusSuccess, model.StatusUpdate{Result: result}) {
			metrics.EmitJobLifecycle(o.metrics, metrics.JobEvent{
				Plugin:   desc.Name,
				Status:   string(model.JobStatusSuccess),
				Result:   metrics.ResultSuccess,
				Duration: elapsed,
			})
		}
	case errors.Is(execErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		o.cancelQuietly(desc.Runner, handle, jobID)
		timeoutErr := apperrors.Timeoutf("execution exceeded %s budget", timeout)
		if o.finish(jobID, model.JobStatusFailed, model.StatusUpdate{Error: timeoutErr.Message}) {
			metrics.EmitJobLifecycle(o.metrics, metrics.JobEvent{
				Plugin:   desc.Name,
				Status:   string(model.JobStatusFailed),
				Result:   metrics.ResultFailed,
				Duration: elapsed,
				Err:      timeoutErr,
			})
		}
	default:
		if o.finish(jobID, model.JobStatusFailed, model.StatusUpdate{Error: execErr.Error()}) {
			metrics.EmitJobLifecycle(o.metrics, metrics.JobEvent{
				Plugin:   desc.Name,
				Status:   string(model.JobStatusFailed),
				Result:   metrics.ResultFailed,
				Duration: elapsed,
				Err:      execErr,
			})
		}
	}
}

// execute invokes the plugin behind a recover boundary.
func (o *Orchestrator) execute(
	ctx context.Context,
	runner plugin.Runner,
	handle plugin.Handle,
) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.ExecutionFailuref("plugin panic: %v", r)
			if o.logger != nil {
				o.logger.Error("recovered plugin panic", "panic", r)
			}
		}
	}()
	return runner.Execute(ctx, handle)
}

// finish records a terminal outcome and reports whether the record was
// written. Losing a transition race to a cancel is expected and ignored;
// anything else is logged.
func (o *Orchestrator) finish(jobID string, status model.JobStatus, upd model.StatusUpdate) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := o.store.UpdateStatus(ctx, jobID, status, upd); err != nil {
		if apperrors.IsInvalidTransition(err) {
			if o.logger != nil {
				o.logger.Debug("job already terminal, outcome discarded",
					"job_id", jobID, "discarded_status", status)
			}
			return false
		}
		if o.logger != nil {
			o.logger.Error("failed to record job outcome",
				"job_id", jobID, "status", status, "error", err)
		}
		return false
	}
	return true
}

// cancelQuietly calls the plugin cancel hook for cleanup paths where the
// outcome no longer matters.
func (o *Orchestrator) cancelQuietly(runner plugin.Runner, handle plugin.Handle, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelAckTimeout)
	defer cancel()
	if err := runner.Cancel(ctx, handle); err != nil && o.logger != nil {
		o.logger.Debug("plugin cancel hook declined", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) forget(jobID string) {
	o.mu.Lock()
	delete(o.inflight, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) lookupInflight(jobID string) (*inflightJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.inflight[jobID]
	return j, ok
}

// Status returns the job record. The caller's role must carry "view"; the
// record must belong to the caller unless their role carries the
// administrative override.
//
// The view check runs before any store read so a caller who may not view
// jobs at all learns nothing about which ids exist.
func (o *Orchestrator) Status(
	ctx context.Context,
	user domainauth.User,
	pluginName, jobID string,
) (*model.Job, error) {
	return o.fetchAuthorized(ctx, user, pluginName, jobID)
}

// Result returns the job with its result payload, optionally projected
// through a JMESPath query. Jobs that have not reached SUCCESS yield a
// Conflict so callers can distinguish "not ready" from "does not exist".
func (o *Orchestrator) Result(
	ctx context.Context,
	user domainauth.User,
	pluginName, jobID, query string,
) (*model.Job, error) {
	job, err := o.fetchAuthorized(ctx, user, pluginName, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusSuccess:
		// fall through to projection
	case model.JobStatusFailed:
		msg := "execution failed"
		if job.Error != nil {
			msg = *job.Error
		}
		return nil, apperrors.Conflictf("job %s has no result: %s", jobID, msg)
	case model.JobStatusCancelled:
		return nil, apperrors.Conflictf("job %s has no result: cancelled", jobID)
	default:
		return nil, apperrors.Conflictf("job %s is not ready: status is %s", jobID, job.Status)
	}

	if query != "" {
		projected, projErr := projectResult(job.Result, query)
		if projErr != nil {
			return nil, projErr
		}
		job.Result = projected
	}
	return job, nil
}

// Cancel requests cancellation of a job. PENDING jobs are cancelled
// immediately; RUNNING jobs are cancelled only once the plugin's cancel hook
// acknowledges, otherwise the job runs to its natural outcome and the
// returned record still shows RUNNING. Terminal jobs are returned unchanged.
//
// Cancellation requires the plugin's own action (or the administrative
// override), not just "view".
func (o *Orchestrator) Cancel(
	ctx context.Context,
	user domainauth.User,
	pluginName, jobID string,
) (*model.Job, error) {
	desc, err := o.registry.Get(pluginName)
	if err != nil {
		return nil, err
	}
	if !o.matrix.IsAllowed(user.Role, desc.Action) && !o.matrix.HasOverride(user.Role) {
		return nil, apperrors.Forbiddenf("role %q may not cancel %q jobs", user.Role, pluginName)
	}

	job, err := o.getOwned(ctx, user, pluginName, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusPending:
		cancelled, updErr := o.store.UpdateStatus(ctx, jobID, model.JobStatusCancelled, model.StatusUpdate{})
		if updErr != nil {
			if apperrors.IsInvalidTransition(updErr) {
				// Dispatch won the race; retry against the running job.
				return o.Cancel(ctx, user, pluginName, jobID)
			}
			return nil, updErr
		}
		if o.logger != nil {
			o.logger.InfoContext(ctx, "job cancelled before dispatch",
				"job_id", jobID, "username", user.Username)
		}
		metrics.EmitJobLifecycle(o.metrics, metrics.JobEvent{
			Plugin: pluginName,
			Status: string(model.JobStatusCancelled),
			Result: metrics.ResultCancelled,
		})
		return cancelled, nil

	case model.JobStatusRunning:
		return o.cancelRunning(ctx, user, jobID, job)

	default:
		// Terminal states are immutable; repeated cancels are a no-op.
		return job, nil
	}
}

func (o *Orchestrator) cancelRunning(
	ctx context.Context,
	user domainauth.User,
	jobID string,
	job *model.Job,
) (*model.Job, error) {
	entry, ok := o.lookupInflight(jobID)
	if !ok {
		// Not dispatched by this process (or already winding down). The
		// job completes naturally; report the no-op by returning it as-is.
		return job, nil
	}

	ackCtx, cancel := context.WithTimeout(ctx, cancelAckTimeout)
	defer cancel()
	if err := entry.runner.Cancel(ackCtx, entry.handle); err != nil {
		if o.logger != nil {
			o.logger.InfoContext(ctx, "plugin declined cancellation",
				"job_id", jobID, "error", err)
		}
		return job, nil
	}

	cancelled, err := o.store.UpdateStatus(ctx, jobID, model.JobStatusCancelled, model.StatusUpdate{})
	if err != nil {
		if apperrors.IsInvalidTransition(err) {
			// Finished in the meantime; return the terminal record.
			return o.store.Get(ctx, jobID)
		}
		return nil, err
	}

	// Stop the execution context so the runner unwinds promptly.
	entry.cancelRun()

	if o.logger != nil {
		o.logger.InfoContext(ctx, "running job cancelled",
			"job_id", jobID, "username", user.Username)
	}
	metrics.EmitJobLifecycle(o.metrics, metrics.JobEvent{
		Plugin: job.Plugin,
		Status: string(model.JobStatusCancelled),
		Result: metrics.ResultCancelled,
	})
	return cancelled, nil
}

// List returns jobs for a plugin, newest first. Callers without the
// administrative override only ever see their own jobs regardless of the
// requested filter.
func (o *Orchestrator) List(
	ctx context.Context,
	user domainauth.User,
	pluginName string,
	filter model.JobFilter,
) ([]*model.Job, error) {
	if !o.matrix.IsAllowed(user.Role, domainauth.ActionView) {
		return nil, apperrors.Forbiddenf("role %q may not view jobs", user.Role)
	}
	if _, err := o.registry.Get(pluginName); err != nil {
		return nil, err
	}

	filter.Plugin = pluginName
	if !o.matrix.HasOverride(user.Role) {
		filter.RequestedBy = user.Username
	}
	return o.store.List(ctx, filter)
}

// fetchAuthorized runs the shared view + ownership gauntlet for read paths.
func (o *Orchestrator) fetchAuthorized(
	ctx context.Context,
	user domainauth.User,
	pluginName, jobID string,
) (*model.Job, error) {
	if !o.matrix.IsAllowed(user.Role, domainauth.ActionView) {
		return nil, apperrors.Forbiddenf("role %q may not view jobs", user.Role)
	}
	return o.getOwned(ctx, user, pluginName, jobID)
}

// getOwned loads the job, hides records that belong to a different plugin
// path, and enforces ownership unless the role has the override.
func (o *Orchestrator) getOwned(
	ctx context.Context,
	user domainauth.User,
	pluginName, jobID string,
) (*model.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Plugin != pluginName {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	if job.RequestedBy != user.Username && !o.matrix.HasOverride(user.Role) {
		return nil, apperrors.Forbiddenf("job %s belongs to another user", jobID)
	}
	return job, nil
}

// Shutdown waits for in-flight dispatch goroutines to finish or for ctx to
// expire. Jobs still running at expiry keep their RUNNING records; the lease
// reaper fails them after their deadline passes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}
