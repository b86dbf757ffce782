// Package locklog wraps a locktable.Table with an observable log of
// acquire/release outcomes, so tests can assert on lock ordering (spec
// §4.2's release order: planning, then execution, then singleton-action,
// then everything else) without reaching into adapter internals.
package locklog

import (
	"context"
	"fmt"
	"sync"

	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/port/locktable"
)

// Table decorates a locktable.Table, appending one entry to Entries per
// Acquire/Release call.
type Table struct {
	next locktable.Table

	mu      sync.Mutex
	entries []string
}

// Wrap returns a Table that logs every call made against next.
func Wrap(next locktable.Table) *Table {
	return &Table{next: next}
}

// Acquire implements locktable.Table.
func (t *Table) Acquire(ctx context.Context, l lock.Lock) (locktable.AcquireResult, error) {
	result, err := t.next.Acquire(ctx, l)
	t.append(fmt.Sprintf("acquire %s ok=%v err=%v", l.ID, result.OK, err))
	return result, err
}

// Release implements locktable.Table.
func (t *Table) Release(ctx context.Context, lockID string, expectedOwner string) (locktable.ReleaseResult, error) {
	result, err := t.next.Release(ctx, lockID, expectedOwner)
	t.append(fmt.Sprintf("release %s ok=%v notHeld=%v wrongOwner=%v err=%v", lockID, result.OK, result.NotHeld, result.WrongOwner, err))
	return result, err
}

// Find implements locktable.Table.
func (t *Table) Find(ctx context.Context, filter lock.Filter) ([]lock.Lock, error) {
	return t.next.Find(ctx, filter)
}

func (t *Table) append(entry string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
}

// Entries returns the calls made so far, in order.
func (t *Table) Entries() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.entries...)
}

// Reset clears the log.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
