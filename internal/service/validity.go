package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/adapter/ws"
	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/domain/plan"
	"github.com/anchorhq/anchord/internal/domain/world"
)

// World verdicts returned by WorldsValidityCheck.
const (
	WorldValid       = "valid"
	WorldInvalid     = "invalid"
	WorldInvalidated = "invalidated"
)

// WorldsValidityCheck scans the registry for stale worlds (spec §4.6). A
// stale world is marked invalid; if invalidate is true it is additionally
// reclaimed via Invalidate and upgraded to invalidated. Every world matching
// filter gets a definite verdict, even if invalidation itself fails — a
// failed reclamation attempt still leaves the world invalid, never hidden.
func (c *Coordinator) WorldsValidityCheck(ctx context.Context, invalidate bool, filter world.Filter) (map[uuid.UUID]string, error) {
	worlds, err := c.Registry.FindWorlds(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("worlds validity check: %w", err)
	}

	result := make(map[uuid.UUID]string, len(worlds))
	now := c.now()

	for _, w := range worlds {
		if !w.IsStale(now, c.HeartbeatTimeout) {
			result[w.ID] = WorldValid
			continue
		}

		result[w.ID] = WorldInvalid
		if !invalidate {
			continue
		}

		if err := c.Invalidate(ctx, w.ID); err != nil {
			// The world stays flagged invalid; a later sweep retries
			// reclamation. Invalidate returns the cause; log it here.
			slog.Warn("invalidate stale world failed", "world_id", w.ID, "error", err)
			continue
		}
		result[w.ID] = WorldInvalidated
	}

	stale := 0
	for _, verdict := range result {
		if verdict != WorldValid {
			stale++
		}
	}
	c.Events.BroadcastEvent(ctx, ws.EventValidityCheck, ws.ValidityCheckEvent{Kind: "worlds", Found: stale})

	return result, nil
}

// LocksValidityCheck finds every orphan lock currently held and releases
// it (spec §4.6): a lock whose owner world is absent from the registry, or
// a singleton-action lock whose referenced plan is missing, stopped, or
// paused with a non-pending result. Every lock it returns has already been
// released, so the property "after locks_validity_check, every remaining
// lock references a live world" holds as soon as this call returns.
func (c *Coordinator) LocksValidityCheck(ctx context.Context) ([]lock.Lock, error) {
	all, err := c.Locks.Find(ctx, lock.Filter{})
	if err != nil {
		return nil, fmt.Errorf("locks validity check: %w", err)
	}

	var orphans []lock.Lock
	for _, l := range all {
		orphan, err := c.isOrphan(ctx, l)
		if err != nil {
			return nil, err
		}
		if !orphan {
			continue
		}

		owner := uuid.Nil
		if l.OwnerWorldID != nil {
			owner = *l.OwnerWorldID
		}
		if err := c.release(ctx, l.ID, owner); err != nil {
			return nil, fmt.Errorf("release orphan lock %s: %w", l.ID, err)
		}
		orphans = append(orphans, l)
	}
	c.Events.BroadcastEvent(ctx, ws.EventValidityCheck, ws.ValidityCheckEvent{Kind: "locks", Found: len(orphans)})
	return orphans, nil
}

func (c *Coordinator) isOrphan(ctx context.Context, l lock.Lock) (bool, error) {
	if l.OwnerWorldID != nil {
		worlds, err := c.Registry.FindWorlds(ctx, world.Filter{})
		if err != nil {
			return false, fmt.Errorf("find worlds: %w", err)
		}
		owned := false
		for _, w := range worlds {
			if w.ID == *l.OwnerWorldID {
				owned = true
				break
			}
		}
		if !owned {
			return true, nil
		}
	}

	if l.Class != lock.ClassSingletonAction {
		return false, nil
	}

	p, err := c.Store.LoadPlan(ctx, l.PlanID())
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load plan %s: %w", l.PlanID(), err)
	}

	if p.State == plan.StatusStopped {
		return true, nil
	}
	if p.State == plan.StatusPaused && p.Result != plan.ResultPending {
		return true, nil
	}
	return false, nil
}

// CleanOrphanedLocks is clean_orphaned_locks() (spec §6): a second exposed
// entry point naming the same release-orphans behavior LocksValidityCheck
// already performs. It exists as a distinct, explicitly-named operation
// for callers that want to state "release orphan locks" as their intent
// rather than "check lock validity".
func (c *Coordinator) CleanOrphanedLocks(ctx context.Context) ([]lock.Lock, error) {
	orphans, err := c.LocksValidityCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("clean orphaned locks: %w", err)
	}
	return orphans, nil
}
