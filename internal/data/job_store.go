package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/countyops/countysync/internal/data/pgxutil"
	"github.com/countyops/countysync/internal/domain/model"
	apperrors "github.com/countyops/countysync/internal/errors"
)

// PGStore is the Postgres-backed job record store. Status transitions take a
// row lock so concurrent writers to the same job serialize, while reads and
// writes to other rows proceed concurrently.
type PGStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// PGStoreConfig holds optional configuration for the Postgres store.
type PGStoreConfig struct {
	Logger *slog.Logger
}

// NewPGStore creates a Postgres job store on an existing connection pool.
func NewPGStore(db *sql.DB, cfg PGStoreConfig) *PGStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{
		db:     db,
		logger: logger.With("component", "job_store"),
		now:    time.Now,
	}
}

const jobColumns = `
  id,
  plugin,
  status,
  parameters,
  result,
  error,
  requested_by,
  deadline_at,
  created_at,
  updated_at
`

// scanner covers *sql.Row, *sql.Rows and pgx.Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var (
		job      model.Job
		params   []byte
		result   []byte
		errMsg   sql.NullString
		deadline sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Plugin,
		&job.Status,
		&params,
		&result,
		&errMsg,
		&job.RequestedBy,
		&deadline,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		job.Parameters = params
	}
	if len(result) > 0 {
		job.Result = result
	}
	if errMsg.Valid {
		job.Error = &errMsg.String
	}
	if deadline.Valid {
		t := deadline.Time
		job.Deadline = &t
	}
	return &job, nil
}

// Create allocates a UUID and inserts the record with status PENDING.
func (s *PGStore) Create(ctx context.Context, req *model.SubmitRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("submit request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid submit request")
	}

	var params any
	if len(req.Parameters) > 0 {
		params = []byte(req.Parameters)
	}

	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, plugin, status, parameters, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+jobColumns,
		uuid.NewString(), req.Plugin, model.JobStatusPending, params, req.RequestedBy, now,
	)

	job, err := scanJob(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("insert job: %w", err))
	}
	return job, nil
}

// Get returns the job with the given id.
func (s *PGStore) Get(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("select job: %w", err))
	}
	return job, nil
}

// UpdateStatus transitions the job under a row lock so the current-status
// check and the write are atomic with respect to concurrent updaters.
func (s *PGStore) UpdateStatus(
	ctx context.Context,
	id string,
	next model.JobStatus,
	upd model.StatusUpdate,
) (*model.Job, error) {
	if !next.Valid() {
		return nil, apperrors.Validationf("invalid status %q", next)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, s.db, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var current model.JobStatus
			err := tx.QueryRow(ctx,
				`SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id,
			).Scan(&current)
			if err != nil {
				if err == pgx.ErrNoRows {
					return apperrors.NotFoundf("job %s not found", id)
				}
				return fmt.Errorf("lock job row: %w", err)
			}
			if !current.CanTransitionTo(next) {
				return apperrors.InvalidTransitionf("job %s: %s -> %s is not permitted", id, current, next)
			}

			var result, errMsg, deadline any
			if next == model.JobStatusSuccess && len(upd.Result) > 0 {
				result = []byte(upd.Result)
			}
			if next == model.JobStatusFailed {
				msg := upd.Error
				if msg == "" {
					msg = "execution failed"
				}
				errMsg = msg
			}
			if upd.Deadline != nil {
				deadline = upd.Deadline.UTC()
			}

			row := tx.QueryRow(ctx, `
				UPDATE jobs
				SET status = $2,
				    result = $3,
				    error = $4,
				    deadline_at = $5,
				    updated_at = $6
				WHERE id = $1
				RETURNING `+jobColumns,
				id, next, result, errMsg, deadline, s.now().UTC(),
			)
			job, err = scanJob(row)
			if err != nil {
				return fmt.Errorf("update job status: %w", err)
			}
			return nil
		},
	})
	if txErr != nil {
		if apperrors.GetCode(txErr) != "" {
			return nil, txErr
		}
		return nil, apperrors.MapDBError(txErr)
	}
	return job, nil
}

// List returns matching jobs ordered by created_at descending.
func (s *PGStore) List(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Plugin != "" {
		where = append(where, "plugin = "+arg(filter.Plugin))
	}
	if filter.RequestedBy != "" {
		where = append(where, "requested_by = "+arg(filter.RequestedBy))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list jobs: %w", err))
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan job: %w", scanErr))
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("iterate jobs: %w", rowsErr))
	}
	return jobs, nil
}

// ExpireOverdue forces RUNNING jobs past their deadline to FAILED(timeout).
// The status guard in the WHERE clause makes the sweep atomic per row.
func (s *PGStore) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    error = 'execution exceeded deadline',
		    updated_at = $2
		WHERE status = $3 AND deadline_at IS NOT NULL AND deadline_at < $4
		RETURNING id`,
		model.JobStatusFailed, s.now().UTC(), model.JobStatusRunning, now.UTC(),
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("expire overdue jobs: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan expired id: %w", scanErr))
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("iterate expired ids: %w", rowsErr))
	}

	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "expired overdue jobs", "count", len(ids))
	}
	return ids, nil
}
