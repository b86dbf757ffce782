package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/port/locktable"
)

// LockTable implements locktable.Table over the locks table. Acquire relies
// on the primary key on id to make first-writer-wins atomic without an
// explicit application-level lock.
type LockTable struct {
	pool *pgxpool.Pool
}

// NewLockTable creates a LockTable backed by the given pool.
func NewLockTable(pool *pgxpool.Pool) *LockTable {
	return &LockTable{pool: pool}
}

// Acquire implements locktable.Table. The id primary key makes
// first-writer-wins atomic: exactly one caller's INSERT ... ON CONFLICT
// actually inserts the row.
func (t *LockTable) Acquire(ctx context.Context, l lock.Lock) (locktable.AcquireResult, error) {
	payload, err := json.Marshal(l.Payload)
	if err != nil {
		return locktable.AcquireResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	var owner *string
	if l.OwnerWorldID != nil {
		s := l.OwnerWorldID.String()
		owner = &s
	}

	tag, err := t.pool.Exec(ctx,
		`INSERT INTO locks (id, owner_world_id, class, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		l.ID, owner, string(l.Class), payload)
	if err != nil {
		return locktable.AcquireResult{}, fmt.Errorf("acquire lock %s: %w", l.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return locktable.AcquireResult{OK: true}, nil
	}

	var heldBy *string
	err = t.pool.QueryRow(ctx, `SELECT owner_world_id::text FROM locks WHERE id = $1`, l.ID).Scan(&heldBy)
	if err != nil {
		return locktable.AcquireResult{}, fmt.Errorf("read back lock %s: %w", l.ID, err)
	}
	return locktable.AcquireResult{OK: false, HeldBy: heldBy}, nil
}

// Release implements locktable.Table.
func (t *LockTable) Release(ctx context.Context, lockID string, expectedOwner string) (locktable.ReleaseResult, error) {
	var owner *string
	err := t.pool.QueryRow(ctx, `SELECT owner_world_id::text FROM locks WHERE id = $1`, lockID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return locktable.ReleaseResult{NotHeld: true}, nil
	}
	if err != nil {
		return locktable.ReleaseResult{}, fmt.Errorf("read lock %s: %w", lockID, err)
	}

	if owner == nil || *owner != expectedOwner {
		return locktable.ReleaseResult{WrongOwner: true}, nil
	}

	if _, err := t.pool.Exec(ctx, `DELETE FROM locks WHERE id = $1 AND owner_world_id = $2`, lockID, expectedOwner); err != nil {
		return locktable.ReleaseResult{}, fmt.Errorf("release lock %s: %w", lockID, err)
	}
	return locktable.ReleaseResult{OK: true}, nil
}

// Find implements locktable.Table.
func (t *LockTable) Find(ctx context.Context, filter lock.Filter) ([]lock.Lock, error) {
	query := `SELECT id, owner_world_id::text, class, payload FROM locks WHERE ($1 = '' OR id LIKE $1 || '%')
	          AND ($2 = '' OR owner_world_id::text = $2) AND ($3 = '' OR class = $3)`

	var owner string
	if filter.Owner != nil {
		owner = filter.Owner.String()
	}

	rows, err := t.pool.Query(ctx, query, filter.IDPrefix, owner, string(filter.Class))
	if err != nil {
		return nil, fmt.Errorf("find locks: %w", err)
	}
	defer rows.Close()

	var out []lock.Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scannableLock interface {
	Scan(dest ...any) error
}

func scanLock(row scannableLock) (lock.Lock, error) {
	var l lock.Lock
	var ownerText *string
	var payload []byte
	var class string
	if err := row.Scan(&l.ID, &ownerText, &class, &payload); err != nil {
		return lock.Lock{}, fmt.Errorf("scan lock: %w", err)
	}
	l.Class = lock.Class(class)
	if ownerText != nil {
		id, err := uuid.Parse(*ownerText)
		if err != nil {
			return lock.Lock{}, fmt.Errorf("parse owner_world_id: %w", err)
		}
		l.OwnerWorldID = &id
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &l.Payload); err != nil {
			return lock.Lock{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return l, nil
}
