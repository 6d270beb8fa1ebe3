// Package data provides the job record store implementations: a Postgres
// store for durable deployments and an in-memory store for single-process
// and test use. Both enforce the same status transition contract.
package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/countyops/countysync/internal/domain/model"
	apperrors "github.com/countyops/countysync/internal/errors"
)

// MemoryStore is a concurrency-safe in-memory job store. A single RWMutex
// serializes mutations; reads copy records so callers never observe a
// partially applied update.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
}

// Create allocates a UUID, persists the record with status PENDING and
// returns a copy of it.
func (s *MemoryStore) Create(_ context.Context, req *model.SubmitRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("submit request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid submit request")
	}

	now := s.now().UTC()
	job := &model.Job{
		ID:          uuid.NewString(),
		Plugin:      req.Plugin,
		Status:      model.JobStatusPending,
		Parameters:  req.Parameters,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return job.Clone(), nil
}

// Get returns a copy of the job with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return job.Clone(), nil
}

// UpdateStatus transitions the job, rejecting transitions the state machine
// forbids with an InvalidTransition error.
func (s *MemoryStore) UpdateStatus(
	_ context.Context,
	id string,
	next model.JobStatus,
	upd model.StatusUpdate,
) (*model.Job, error) {
	if !next.Valid() {
		return nil, apperrors.Validationf("invalid status %q", next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if !job.Status.CanTransitionTo(next) {
		return nil, apperrors.InvalidTransitionf("job %s: %s -> %s is not permitted", id, job.Status, next)
	}

	applyUpdate(job, next, upd, s.now().UTC())
	return job.Clone(), nil
}

// List returns matching jobs ordered by created_at descending.
func (s *MemoryStore) List(_ context.Context, filter model.JobFilter) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Job
	for _, job := range s.jobs {
		if filter.Plugin != "" && job.Plugin != filter.Plugin {
			continue
		}
		if filter.RequestedBy != "" && job.RequestedBy != filter.RequestedBy {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExpireOverdue forces RUNNING jobs past their deadline to FAILED(timeout).
func (s *MemoryStore) ExpireOverdue(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, job := range s.jobs {
		if job.Status != model.JobStatusRunning || job.Deadline == nil || !job.Deadline.Before(now) {
			continue
		}
		applyUpdate(job, model.JobStatusFailed, model.StatusUpdate{
			Error: "execution exceeded deadline",
		}, s.now().UTC())
		expired = append(expired, id)
	}
	sort.Strings(expired)
	return expired, nil
}

// applyUpdate mutates the record in place; callers hold the write lock.
func applyUpdate(job *model.Job, next model.JobStatus, upd model.StatusUpdate, now time.Time) {
	job.Status = next
	job.UpdatedAt = now
	job.Deadline = upd.Deadline

	switch next {
	case model.JobStatusSuccess:
		job.Result = upd.Result
		job.Error = nil
	case model.JobStatusFailed:
		msg := upd.Error
		if msg == "" {
			msg = "execution failed"
		}
		job.Error = &msg
		job.Result = nil
	case model.JobStatusCancelled:
		job.Result = nil
	}
}
