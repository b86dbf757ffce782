// Package service implements the coordination core: the invalidator, the
// auto-execute sweep, and the validity checker, all orchestrated through a
// shared Coordinator that owns the persistence, lock, registry, executor,
// and transport ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/adapter/ws"
	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/domain/plan"
	"github.com/anchorhq/anchord/internal/domain/world"
	"github.com/anchorhq/anchord/internal/port/executor"
	"github.com/anchorhq/anchord/internal/port/locktable"
	"github.com/anchorhq/anchord/internal/port/planstore"
	"github.com/anchorhq/anchord/internal/port/transport"
	"github.com/anchorhq/anchord/internal/port/worldregistry"
)

// Coordinator orchestrates the fleet's shared state through serialized
// critical sections over the lock table. It is the single Go-level entry
// point described in spec §6 "Exposed to clients": Invalidate, AutoExecute,
// WorldsValidityCheck, LocksValidityCheck, CleanOrphanedLocks.
type Coordinator struct {
	Store    planstore.Store
	Locks    locktable.Table
	Registry worldregistry.Registry
	Executor executor.Executor // the local world's own executor; when nil, dispatch to this world also goes through Conn
	Conn     transport.Connector

	// Events, if set, receives a broadcast after every completed
	// invalidation, auto-execute sweep, and validity check — ambient ops
	// observability, not part of the protocol itself. A nil Events is a
	// valid, fully silent configuration.
	Events *ws.Hub

	// SelfWorldID identifies the world this Coordinator instance runs in —
	// used to decide whether a reassigned plan dispatches locally or over
	// the transport.
	SelfWorldID uuid.UUID

	// HeartbeatTimeout bounds how long a world's last heartbeat is trusted
	// before it is considered stale (spec §4.3).
	HeartbeatTimeout time.Duration

	// MaxConcurrentDispatch bounds auto-execute's concurrent dispatch.
	MaxConcurrentDispatch int

	// InvalidationRetryBackoff delays the single retry in
	// savePlanWithRetry after a Conflict, giving the racing writer a
	// chance to finish before the reload-and-retry. Zero retries
	// immediately.
	InvalidationRetryBackoff time.Duration

	// Now returns the current time; overridden in tests for determinism.
	Now func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// acquire wraps locktable.Table.Acquire with structured logging; the
// returned bool reports whether the lock was newly held by l.OwnerWorldID.
func (c *Coordinator) acquire(ctx context.Context, l lock.Lock) (bool, error) {
	result, err := c.Locks.Acquire(ctx, l)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.ID, err)
	}
	if !result.OK {
		slog.Debug("lock already held", "lock_id", l.ID, "held_by", result.HeldBy)
		return false, nil
	}
	slog.Debug("lock acquired", "lock_id", l.ID, "owner", l.OwnerWorldID)
	return true, nil
}

// release wraps locktable.Table.Release, swallowing NotHeld (spec §7:
// NotFound-shaped failures on already-reclaimed resources are not errors).
func (c *Coordinator) release(ctx context.Context, lockID string, owner uuid.UUID) error {
	result, err := c.Locks.Release(ctx, lockID, owner.String())
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lockID, err)
	}
	if result.NotHeld {
		slog.Debug("lock already released", "lock_id", lockID)
		return nil
	}
	if result.WrongOwner {
		slog.Warn("release attempted by non-owner", "lock_id", lockID, "owner", owner)
		return nil
	}
	slog.Debug("lock released", "lock_id", lockID, "owner", owner)
	return nil
}

// savePlanWithRetry implements spec §7's retry-once-on-Conflict: a version
// mismatch reloads the stored plan and retries exactly once, carrying the
// caller's intended field values forward onto the fresh version counter. A
// second Conflict is fatal to the calling invalidation/sweep run only.
func (c *Coordinator) savePlanWithRetry(ctx context.Context, p *plan.ExecutionPlan) error {
	err := c.Store.SavePlan(ctx, p)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}

	if c.InvalidationRetryBackoff > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("save plan %s: %w", p.ID, ctx.Err())
		case <-time.After(c.InvalidationRetryBackoff):
		}
	}

	fresh, loadErr := c.Store.LoadPlan(ctx, p.ID)
	if loadErr != nil {
		return fmt.Errorf("reload plan %s after conflict: %w", p.ID, loadErr)
	}
	p.Version = fresh.Version

	if err := c.Store.SavePlan(ctx, p); err != nil {
		return fmt.Errorf("save plan %s after retry: %w", p.ID, err)
	}
	return nil
}

// dispatchForExecution acquires a fresh execution lock on behalf of a live
// executor world and starts (or notifies) that world to run the plan. It is
// shared by the invalidator's reassignment path (§4.4.b, and the
// finished-planning handoff of §4.4.a) and the auto-execute sweep (§4.5).
// Returns false with no error if no executor is alive, or if another world
// won the lock race first — both are benign no-ops under the protocol's
// idempotent-convergence guarantee.
func (c *Coordinator) dispatchForExecution(ctx context.Context, p *plan.ExecutionPlan, preferSelf bool) (bool, error) {
	filter := world.Filter{Kind: world.KindExecutor}
	executors, err := c.Registry.FindWorlds(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("find executors: %w", err)
	}
	executors = world.LiveWorlds(executors, filter, c.now(), c.HeartbeatTimeout)
	if len(executors) == 0 {
		return false, nil
	}

	target := executors[0]
	if preferSelf {
		for _, w := range executors {
			if w.ID == c.SelfWorldID {
				target = w
				break
			}
		}
	}

	newLock := lock.NewExecutionPlanLock(target.ID, p.ID, lock.VariantExecution)
	ok, err := c.acquire(ctx, newLock)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	p.ExecutorID = &target.ID
	p.AppendEvent(plan.EventStartExecution, target.ID, c.now())
	if err := c.savePlanWithRetry(ctx, p); err != nil {
		return false, err
	}

	if target.ID == c.SelfWorldID && c.Executor != nil {
		c.Executor.Execute(ctx, p.ID)
		return true, nil
	}

	if c.Conn != nil {
		msg := transport.Message{Kind: "resume_execution", Payload: []byte(p.ID.String())}
		if sendErr := c.Conn.Send(ctx, target.ID, msg); sendErr != nil {
			// TransportFailure is logged, not fatal: the dispatch intent is
			// already durable via the lock and history event.
			slog.Error("notify executor failed", "world_id", target.ID, "plan_id", p.ID, "error", sendErr)
		}
	}
	return true, nil
}
