package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/countyops/countysync/internal/core"
)

// DefaultReapInterval is how often overdue RUNNING jobs are swept when
// configuration does not say otherwise.
const DefaultReapInterval = time.Minute

// ReaperOptions groups dependencies for Reaper.
type ReaperOptions struct {
	Store    core.LeaseReaper // Required: store with lease expiry support
	Interval time.Duration    // Optional: sweep interval, defaults to DefaultReapInterval
	Logger   *slog.Logger     // Optional: structured logger
}

// Reaper periodically fails jobs stuck in RUNNING past their execution
// deadline. Its real purpose is crash recovery: the in-process timeout
// normally fires first, but a dispatcher that died with its process leaves a
// RUNNING record nobody else would ever finish.
type Reaper struct {
	store    core.LeaseReaper
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper constructs a new Reaper.
func NewReaper(opts ReaperOptions) (*Reaper, error) {
	if opts.Store == nil {
		return nil, errors.New("LeaseReaper store is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultReapInterval
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "lease_reaper")
	}

	return &Reaper{
		store:    opts.Store,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run sweeps overdue jobs until the context is cancelled. Returns nil on
// graceful shutdown (context.Canceled), the context error otherwise.
func (r *Reaper) Run(ctx context.Context) error {
	if r.logger != nil {
		r.logger.InfoContext(ctx, "starting lease reaper", "interval", r.interval)
	}

	// Jitter so multiple instances started together don't sweep in lockstep.
	r.waitWithJitter(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			if r.logger != nil {
				r.logger.InfoContext(ctx, "lease reaper stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep runs one expiry pass. Errors are logged and the loop keeps going.
func (r *Reaper) sweep(ctx context.Context) {
	expired, err := r.store.ExpireOverdue(ctx, time.Now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "lease sweep failed", "error", err)
		}
		return
	}
	if len(expired) > 0 && r.logger != nil {
		r.logger.WarnContext(ctx, "expired overdue jobs",
			"count", len(expired), "job_ids", expired)
	}
}

func (r *Reaper) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
