// Package worldregistry defines the world-membership port (spec §4.3).
package worldregistry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain/world"
)

// Registry is the port interface for world registration and liveness.
type Registry interface {
	Register(ctx context.Context, w world.World) error
	Heartbeat(ctx context.Context, worldID uuid.UUID, now time.Time) error
	Deregister(ctx context.Context, worldID uuid.UUID) error
	FindWorlds(ctx context.Context, filter world.Filter) ([]world.World, error)
}
