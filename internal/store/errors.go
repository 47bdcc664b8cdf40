package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/contactlink/internal/apperr"
)

// Postgres SQLSTATE codes treated as retryable conflicts.
var pgConflictCodes = map[string]struct{}{
	"23505": {}, // unique_violation
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// classify wraps a driver error with the sentinel the engine acts on.
func classify(op string, err error) error {
	if isConflict(err) {
		return fmt.Errorf("store: %s: %w: %w", op, apperr.ErrConflict, err)
	}
	return fmt.Errorf("store: %s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}

func isConflict(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		case sqlite3.ErrConstraint:
			return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
		}
		return false
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		_, ok := pgConflictCodes[pe.Code]
		return ok
	}
	return false
}
