package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound signals an unknown entity or version id. Callers map it to a
// 404-equivalent.
var ErrNotFound = errors.New("not found")

// ValidationError reports a client error detected before any state change:
// bad field values, missing required fields. It never leaves partial state
// behind.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// ConflictError reports a state conflict such as a duplicate fully-qualified
// name or a concurrent version mismatch. Safe to retry after re-reading.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// TransientStorageError wraps storage failures that are worth retrying:
// timeouts, lost connections. Distinct from ErrNotFound so callers can tell
// "the row is absent" from "the store is unavailable".
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("transient storage error in %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// InvariantError reports a broken internal invariant, e.g. a version going
// backward or an orphaned version record. It is a bug, never repaired
// silently; the operation is aborted.
type InvariantError struct {
	EntityID uuid.UUID
	Reason   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation for entity %s: %s", e.EntityID, e.Reason)
}

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	var te *TransientStorageError
	return errors.As(err, &te)
}
