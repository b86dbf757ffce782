package memory

import (
	"context"
	"sync"

	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/port/locktable"
)

// LockTable is an in-memory locktable.Table. Acquire/Release are
// serialized per lock id via a single table-wide mutex — a deliberately
// coarse-grained approximation of "serializable per lock_id" (spec §4.2);
// a durable implementation (internal/adapter/postgres) gets the same
// property from row-level atomicity instead.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]lock.Lock
}

// NewLockTable creates an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]lock.Lock)}
}

// Acquire implements locktable.Table.
func (t *LockTable) Acquire(_ context.Context, l lock.Lock) (locktable.AcquireResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, held := t.locks[l.ID]; held {
		var owner string
		if existing.OwnerWorldID != nil {
			owner = existing.OwnerWorldID.String()
		}
		return locktable.AcquireResult{OK: false, HeldBy: &owner}, nil
	}
	t.locks[l.ID] = l
	return locktable.AcquireResult{OK: true}, nil
}

// Release implements locktable.Table.
func (t *LockTable) Release(_ context.Context, lockID string, expectedOwner string) (locktable.ReleaseResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, held := t.locks[lockID]
	if !held {
		return locktable.ReleaseResult{NotHeld: true}, nil
	}
	var owner string
	if existing.OwnerWorldID != nil {
		owner = existing.OwnerWorldID.String()
	}
	if owner != expectedOwner {
		return locktable.ReleaseResult{WrongOwner: true}, nil
	}
	delete(t.locks, lockID)
	return locktable.ReleaseResult{OK: true}, nil
}

// Find implements locktable.Table.
func (t *LockTable) Find(_ context.Context, filter lock.Filter) ([]lock.Lock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []lock.Lock
	for id, l := range t.locks {
		if filter.IDPrefix != "" && !hasPrefix(id, filter.IDPrefix) {
			continue
		}
		if filter.Owner != nil {
			if l.OwnerWorldID == nil || *l.OwnerWorldID != *filter.Owner {
				continue
			}
		}
		if filter.Class != "" && l.Class != filter.Class {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
