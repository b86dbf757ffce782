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
)

// Invalidate is the centerpiece of the coordination core: it detects a dead
// world, reclaims every lock it held, and reassigns or terminates the work
// those locks protected (spec §4.4). At most one invalidation per target
// world ever runs concurrently — a second caller observes the outer lock
// already held and returns without mutating anything (spec §8 property 1).
func (c *Coordinator) Invalidate(ctx context.Context, targetWorldID uuid.UUID) error {
	invLockID := lock.WorldInvalidationID(targetWorldID)
	invLock := lock.Lock{ID: invLockID, OwnerWorldID: &c.SelfWorldID, Class: lock.ClassWorldInvalidation}

	held, err := c.acquire(ctx, invLock)
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", targetWorldID, err)
	}
	if !held {
		// Another invalidation of this target is already in flight.
		return nil
	}
	defer func() {
		if relErr := c.release(ctx, invLockID, c.SelfWorldID); relErr != nil {
			slog.Error("release world-invalidation lock", "world_id", targetWorldID, "error", relErr)
		}
	}()

	if err := c.Registry.Deregister(ctx, targetWorldID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("deregister %s: %w", targetWorldID, err)
	}

	owned, err := c.Locks.Find(ctx, lock.Filter{Owner: &targetWorldID})
	if err != nil {
		return fmt.Errorf("find locks owned by %s: %w", targetWorldID, err)
	}

	var planning, execution, singleton, misc []lock.Lock
	for _, l := range owned {
		switch {
		case l.Class == lock.ClassExecutionPlan && l.Variant() == lock.VariantPlanning:
			planning = append(planning, l)
		case l.Class == lock.ClassExecutionPlan && l.Variant() == lock.VariantExecution:
			execution = append(execution, l)
		case l.Class == lock.ClassSingletonAction:
			singleton = append(singleton, l)
		default:
			misc = append(misc, l)
		}
	}

	for _, l := range planning {
		if err := c.reclaimPlanningLock(ctx, l, targetWorldID); err != nil {
			return fmt.Errorf("reclaim planning lock %s: %w", l.ID, err)
		}
	}
	for _, l := range execution {
		if err := c.reclaimExecutionLock(ctx, l, targetWorldID); err != nil {
			return fmt.Errorf("reclaim execution lock %s: %w", l.ID, err)
		}
	}
	for _, l := range singleton {
		if err := c.release(ctx, l.ID, targetWorldID); err != nil {
			return fmt.Errorf("release singleton lock %s: %w", l.ID, err)
		}
	}
	for _, l := range misc {
		if err := c.release(ctx, l.ID, targetWorldID); err != nil {
			return fmt.Errorf("release misc lock %s: %w", l.ID, err)
		}
	}

	c.Events.BroadcastEvent(ctx, ws.EventWorldInvalidated, ws.WorldInvalidatedEvent{WorldID: targetWorldID.String()})
	return nil
}

// reclaimPlanningLock implements spec §4.4 step 3a.
func (c *Coordinator) reclaimPlanningLock(ctx context.Context, l lock.Lock, targetWorldID uuid.UUID) error {
	if err := c.release(ctx, l.ID, targetWorldID); err != nil {
		return err
	}

	planID := l.PlanID()
	p, err := c.Store.LoadPlan(ctx, planID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load plan %s: %w", planID, err)
	}

	if p.State == plan.StatusPlanning && p.AnyStepNotPending() {
		if !plan.CanTransition(p.State, plan.StatusStopped) {
			return fmt.Errorf("illegal transition %s -> %s for plan %s", p.State, plan.StatusStopped, p.ID)
		}
		p.State = plan.StatusStopped
		p.AppendEvent(plan.EventAbortPlanning, targetWorldID, c.now())
		return c.savePlanWithRetry(ctx, p)
	}

	// Planning finished before the world died: hand the plan to a live
	// executor via the same dispatch path auto-execute uses.
	if _, err := c.dispatchForExecution(ctx, p, false); err != nil {
		return fmt.Errorf("dispatch plan %s: %w", p.ID, err)
	}
	return nil
}

// reclaimExecutionLock implements spec §4.4 step 3b.
func (c *Coordinator) reclaimExecutionLock(ctx context.Context, l lock.Lock, targetWorldID uuid.UUID) error {
	planID := l.PlanID()
	p, err := c.Store.LoadPlan(ctx, planID)
	if errors.Is(err, domain.ErrNotFound) {
		return c.release(ctx, l.ID, targetWorldID)
	}
	if err != nil {
		return fmt.Errorf("load plan %s: %w", planID, err)
	}

	// The old execution lock is superseded either by a skip-rescue
	// terminal write or by a fresh lock for the reassigned executor; it is
	// never left standing, so release it unconditionally up front.
	if err := c.release(ctx, l.ID, targetWorldID); err != nil {
		return err
	}

	p.AppendEvent(plan.EventTerminateExecution, targetWorldID, c.now())

	if c.rescueIsSkip(p) {
		return c.skipRescue(ctx, p)
	}
	return c.reassignOrPause(ctx, p, targetWorldID)
}

// rescueIsSkip reports whether any action class still in flight on p is
// configured to skip (rather than reassign) on crash. A mixed plan with
// both skip and reassign classes skips entirely — the simplification is
// documented in DESIGN.md.
func (c *Coordinator) rescueIsSkip(p *plan.ExecutionPlan) bool {
	for _, class := range p.ActionClassesInFlight() {
		if rs, ok := p.RescuePolicies[class]; ok && rs == plan.RescueSkip {
			return true
		}
	}
	return false
}

// skipRescue marks every non-terminal or errored step skipped and advances
// the plan to StatusStopped (spec §4.4.b, §8 property 5).
func (c *Coordinator) skipRescue(ctx context.Context, p *plan.ExecutionPlan) error {
	hadError := false
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Status == plan.StepStatusError {
			hadError = true
		}
		if s.Status != plan.StepStatusSuccess && s.Status != plan.StepStatusSkipped {
			s.Status = plan.StepStatusSkipped
			s.UpdatedAt = c.now()
		}
	}

	if !plan.CanTransition(p.State, plan.StatusStopped) {
		return fmt.Errorf("illegal transition %s -> %s for plan %s", p.State, plan.StatusStopped, p.ID)
	}
	p.State = plan.StatusStopped
	if hadError {
		p.Result = plan.ResultWarning
	} else {
		p.Result = plan.ResultSuccess
	}
	return c.savePlanWithRetry(ctx, p)
}

// reassignOrPause implements the non-skip branch of spec §4.4.b: hand the
// plan to another live executor, or pause it if none remain.
func (c *Coordinator) reassignOrPause(ctx context.Context, p *plan.ExecutionPlan, deadWorldID uuid.UUID) error {
	dispatched, err := c.dispatchForExecution(ctx, p, false)
	if err != nil {
		return err
	}
	if dispatched {
		return nil
	}

	if !plan.CanTransition(p.State, plan.StatusPaused) {
		return fmt.Errorf("illegal transition %s -> %s for plan %s", p.State, plan.StatusPaused, p.ID)
	}
	p.State = plan.StatusPaused
	p.Result = plan.ResultPending
	p.ExecutorID = nil
	return c.savePlanWithRetry(ctx, p)
}
