// Package locktable defines the durable named-lock port (spec §4.2). All
// operations are serializable per lock id.
package locktable

import (
	"context"

	"github.com/anchorhq/anchord/internal/domain/lock"
)

// AcquireResult is the outcome of Acquire.
type AcquireResult struct {
	OK      bool
	HeldBy  *string // owner world id, set when OK is false
}

// ReleaseResult is the outcome of Release.
type ReleaseResult struct {
	OK         bool
	NotHeld    bool
	WrongOwner bool
}

// Table is the port interface for the durable lock table.
type Table interface {
	// Acquire durably records ownership of lock.ID by lock.OwnerWorldID if
	// unheld. Acquiring an already-held lock returns OK=false and the
	// current owner; it never blocks.
	Acquire(ctx context.Context, l lock.Lock) (AcquireResult, error)

	// Release removes a lock if held by expectedOwner. Releasing an unheld
	// lock or one held by someone else is reported, not an error.
	Release(ctx context.Context, lockID string, expectedOwner string) (ReleaseResult, error)

	// Find returns the locks matching filter (by id prefix, owner, or class).
	Find(ctx context.Context, filter lock.Filter) ([]lock.Lock, error)
}
