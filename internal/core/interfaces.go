// Package core defines the service-layer contracts of the countysync job
// system. Implementations live in internal/data; orchestration in
// internal/service.
package core

import (
	"context"
	"time"

	"github.com/countyops/countysync/internal/domain/model"
)

// JobStore is the durable table of job records. It is the only shared mutable
// resource in the system; every mutation goes through its atomic contract.
//
// Implementations must serialize mutations to a single job (per-record lock or
// row lock) while allowing reads of other records to proceed concurrently.
type JobStore interface {
	// Create allocates a new identifier, persists the record with status
	// PENDING and returns it. Concurrent creations never collide on id.
	Create(ctx context.Context, req *model.SubmitRequest) (*model.Job, error)

	// Get returns the job with the given id, or a NotFound error.
	Get(ctx context.Context, id string) (*model.Job, error)

	// UpdateStatus transitions the job to next, recording upd alongside.
	// It verifies the current status permits the transition and returns an
	// InvalidTransition error otherwise. Returns the updated record.
	UpdateStatus(ctx context.Context, id string, next model.JobStatus, upd model.StatusUpdate) (*model.Job, error)

	// List returns jobs matching the filter ordered by created_at descending.
	List(ctx context.Context, filter model.JobFilter) ([]*model.Job, error)
}

// LeaseReaper expires jobs stuck in RUNNING past their execution deadline.
// It exists so a restarted orchestrator can fail jobs whose dispatcher died
// with them; the in-process timeout normally fires first.
type LeaseReaper interface {
	// ExpireOverdue forces every RUNNING job whose deadline is before now to
	// FAILED with a timeout error, returning the ids it expired.
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
}
