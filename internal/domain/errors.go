// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrTransport indicates a message to another world could not be delivered.
// The target is presumed dead; callers must not treat this as fatal to an
// invalidation run.
var ErrTransport = errors.New("transport failure")

// ErrHeld indicates a lock acquire failed because another world already
// holds it.
var ErrHeld = errors.New("lock held by another world")

// ErrNotHeld indicates a release targeted a lock that is not currently held.
var ErrNotHeld = errors.New("lock not held")

// ErrWrongOwner indicates a release was attempted by a world that does not
// own the lock.
var ErrWrongOwner = errors.New("lock held by a different owner")

// DataConsistencyError wraps a plan that loaded successfully but whose
// associated data (e.g. steps) failed to load or is internally incoherent.
// The plan's coordinator state is still reconciled; this error is surfaced
// for inspection, not to abort reconciliation.
type DataConsistencyError struct {
	PlanID string
	Reason string
}

func (e *DataConsistencyError) Error() string {
	return fmt.Sprintf("data consistency error on plan %s: %s", e.PlanID, e.Reason)
}

// FatalError wraps an error from an unavailable dependency (persistence,
// transport substrate). It is not a sentinel: callers compare with
// errors.As and should treat the world as degraded.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
