// Package world defines the World domain entity: a single process
// participating in the fleet, either planning work (client) or running it
// (executor).
package world

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes a planning client from a runtime executor.
type Kind string

const (
	KindClient   Kind = "client"
	KindExecutor Kind = "executor"
)

// World is a live registration: one row per participating process.
// Invariant: at most one live registration per ID.
type World struct {
	ID       uuid.UUID         `json:"id"`
	Kind     Kind              `json:"kind"`
	Meta     map[string]string `json:"meta,omitempty"`
	LastSeen time.Time         `json:"last_seen"`
}

// IsStale reports whether the world's last heartbeat is older than timeout
// relative to now.
func (w World) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastSeen) > timeout
}

// Filter narrows FindWorlds results. A zero Filter matches everything.
type Filter struct {
	Kind         Kind
	IncludeStale bool
	ExcludeIDs   []uuid.UUID
}

// LiveWorlds drops stale worlds from all, unless filter.IncludeStale is set.
// Staleness depends on a timeout the registry itself has no notion of, so
// this runs as a post-filter over an already-fetched world list rather than
// inside FindWorlds: callers picking a dispatch target want live worlds
// only, while a validity check wants every world, stale ones included, so
// it can find and reclaim them.
func LiveWorlds(all []World, filter Filter, now time.Time, timeout time.Duration) []World {
	if filter.IncludeStale {
		return all
	}
	live := make([]World, 0, len(all))
	for _, w := range all {
		if !w.IsStale(now, timeout) {
			live = append(live, w)
		}
	}
	return live
}
