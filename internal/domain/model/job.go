// Package model defines the core data types for the countysync job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job. The wire form is the
// upper-case enum name ("PENDING", "RUNNING", ...).
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobStatusPending indicates a job has been accepted but not yet dispatched.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning indicates a job has been dispatched to its plugin.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusSuccess indicates a job finished and carries a result.
	JobStatusSuccess JobStatus = "SUCCESS"
	// JobStatusFailed indicates a job finished with a recorded error.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusCancelled indicates a job was cancelled before completing.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
//
//	PENDING -> RUNNING | CANCELLED
//	RUNNING -> SUCCESS | FAILED | CANCELLED
//	terminal -> (nothing)
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusSuccess || next == JobStatusFailed || next == JobStatusCancelled
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so query params and env
// values can use any casing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Job is a tracked unit of asynchronous plugin work.
//
// The orchestrator is the sole writer of Status, Result and Error; readers
// only ever receive copies.
type Job struct {
	ID          string          `json:"job_id"               db:"id"`
	Plugin      string          `json:"plugin"               db:"plugin"`
	Status      JobStatus       `json:"status"               db:"status"`
	Parameters  json.RawMessage `json:"parameters,omitempty" db:"parameters"`
	Result      json.RawMessage `json:"result,omitempty"     db:"result"`
	Error       *string         `json:"error,omitempty"      db:"error"`
	RequestedBy string          `json:"requested_by"         db:"requested_by"`
	Deadline    *time.Time      `json:"-"                    db:"deadline_at"`
	CreatedAt   time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"           db:"updated_at"`
}

// Clone returns a deep copy so store internals never alias caller-held records.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Parameters != nil {
		cp.Parameters = append(json.RawMessage(nil), j.Parameters...)
	}
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.Deadline != nil {
		d := *j.Deadline
		cp.Deadline = &d
	}
	return &cp
}

// SubmitRequest carries the inputs for creating a new job record.
type SubmitRequest struct {
	Plugin      string          `json:"plugin"`
	Parameters  json.RawMessage `json:"parameters"`
	RequestedBy string          `json:"requested_by"`
}

// Validate validates the SubmitRequest fields.
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Plugin) == "" {
		return errors.New("plugin name is required")
	}
	if strings.TrimSpace(r.RequestedBy) == "" {
		return errors.New("requested_by is required")
	}
	if len(r.Parameters) > 0 && !json.Valid(r.Parameters) {
		return errors.New("parameters must be valid JSON")
	}
	return nil
}

// StatusUpdate carries the side data recorded alongside a status transition.
// Result is only meaningful for SUCCESS, Error for FAILED; Deadline is set
// when transitioning to RUNNING so stuck jobs can be expired later.
type StatusUpdate struct {
	Result   json.RawMessage
	Error    string
	Deadline *time.Time
}
