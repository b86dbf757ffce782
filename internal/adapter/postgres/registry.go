package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/domain/world"
	"github.com/anchorhq/anchord/internal/port/worldregistry"
)

// Registry implements worldregistry.Registry over the worlds table.
type Registry struct {
	pool *pgxpool.Pool
}

var _ worldregistry.Registry = (*Registry)(nil)

// NewRegistry creates a Registry backed by the given pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// Register implements worldregistry.Registry, upserting so a world that
// re-registers after a restart simply refreshes its row.
func (r *Registry) Register(ctx context.Context, w world.World) error {
	meta, err := json.Marshal(w.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO worlds (id, kind, meta, last_seen) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET kind = $2, meta = $3, last_seen = $4`,
		w.ID, string(w.Kind), meta, w.LastSeen)
	if err != nil {
		return fmt.Errorf("register world %s: %w", w.ID, err)
	}
	return nil
}

// Heartbeat implements worldregistry.Registry.
func (r *Registry) Heartbeat(ctx context.Context, worldID uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE worlds SET last_seen = $2 WHERE id = $1`, worldID, now)
	if err != nil {
		return fmt.Errorf("heartbeat world %s: %w", worldID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("heartbeat world %s: %w", worldID, domain.ErrNotFound)
	}
	return nil
}

// Deregister implements worldregistry.Registry.
func (r *Registry) Deregister(ctx context.Context, worldID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM worlds WHERE id = $1`, worldID); err != nil {
		return fmt.Errorf("deregister world %s: %w", worldID, err)
	}
	return nil
}

// FindWorlds implements worldregistry.Registry.
func (r *Registry) FindWorlds(ctx context.Context, filter world.Filter) ([]world.World, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, meta, last_seen FROM worlds
		 WHERE ($1 = '' OR kind = $1) AND NOT (id = ANY($2::uuid[]))`,
		string(filter.Kind), excludeArray(filter.ExcludeIDs))
	if err != nil {
		return nil, fmt.Errorf("find worlds: %w", err)
	}
	defer rows.Close()

	var out []world.World
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func excludeArray(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

type scannableWorld interface {
	Scan(dest ...any) error
}

func scanWorld(row scannableWorld) (world.World, error) {
	var w world.World
	var kind string
	var meta []byte
	if err := row.Scan(&w.ID, &kind, &meta, &w.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return world.World{}, fmt.Errorf("scan world: %w", domain.ErrNotFound)
		}
		return world.World{}, fmt.Errorf("scan world: %w", err)
	}
	w.Kind = world.Kind(kind)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &w.Meta); err != nil {
			return world.World{}, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return w, nil
}
