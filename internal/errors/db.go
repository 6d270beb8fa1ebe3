package errors

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors to AppError instances:
//   - pgx.ErrNoRows → NotFound
//   - unique constraint violations → Conflict
//   - check / NOT NULL violations → Validation
//   - context deadline / cancellation → Timeout / Internal
//
// If the error is not a recognized database error, it returns the original
// error unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrCodeTimeout, "database operation timed out")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(err, ErrCodeInternal, "database operation canceled")
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return Wrap(err, ErrCodeNotFound, "record not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return Wrap(pgErr, ErrCodeConflict, "record already exists")
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
		return Wrap(pgErr, ErrCodeValidation, "invalid value for database constraint")
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return Wrap(pgErr, ErrCodeConflict, "concurrent update conflict, retry")
	default:
		return Wrap(pgErr, ErrCodeInternal, "database error")
	}
}
