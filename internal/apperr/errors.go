// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	// ErrInvalidRequest means neither email nor phoneNumber was supplied.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStoreUnavailable wraps any data-store failure: timeout, lost connection,
	// or a conflict that survived every retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConflict is a retryable store conflict (unique violation, serialization
	// failure, busy database).
	ErrConflict = errors.New("conflict")
	// ErrNotFound means the requested contact id is unknown.
	ErrNotFound = errors.New("not found")
)
