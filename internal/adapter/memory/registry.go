package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/domain/world"
)

// Registry is an in-memory worldregistry.Registry.
type Registry struct {
	mu     sync.Mutex
	worlds map[uuid.UUID]world.World
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{worlds: make(map[uuid.UUID]world.World)}
}

// Register implements worldregistry.Registry.
func (r *Registry) Register(_ context.Context, w world.World) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.worlds[w.ID] = w
	return nil
}

// Heartbeat implements worldregistry.Registry.
func (r *Registry) Heartbeat(_ context.Context, worldID uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.worlds[worldID]
	if !ok {
		return domain.ErrNotFound
	}
	w.LastSeen = now
	r.worlds[worldID] = w
	return nil
}

// Deregister implements worldregistry.Registry, removing the world
// immediately and visibly to subsequent FindWorlds calls.
func (r *Registry) Deregister(_ context.Context, worldID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.worlds, worldID)
	return nil
}

// FindWorlds implements worldregistry.Registry.
func (r *Registry) FindWorlds(_ context.Context, filter world.Filter) ([]world.World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	excluded := make(map[uuid.UUID]bool, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		excluded[id] = true
	}

	var out []world.World
	for id, w := range r.worlds {
		if filter.Kind != "" && w.Kind != filter.Kind {
			continue
		}
		if excluded[id] {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}
