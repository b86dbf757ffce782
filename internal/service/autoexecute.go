package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anchorhq/anchord/internal/adapter/ws"
	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/domain/plan"
)

// AutoExecute is the cluster-wide sweep that resumes plans left without a
// live executor — orphaned by a crash the invalidator has not yet reached,
// or simply never picked up (spec §4.5). Only one world runs a sweep at a
// time: the auto-execute lock is cluster-wide and singleton.
func (c *Coordinator) AutoExecute(ctx context.Context) error {
	autoLock := lock.Lock{ID: lock.AutoExecuteID(), OwnerWorldID: &c.SelfWorldID, Class: lock.ClassAutoExecute}

	held, err := c.acquire(ctx, autoLock)
	if err != nil {
		return fmt.Errorf("auto-execute: %w", err)
	}
	if !held {
		return nil
	}
	defer func() {
		_ = c.release(ctx, autoLock.ID, c.SelfWorldID)
	}()

	candidates, err := c.orphanedCandidates(ctx)
	if err != nil {
		return fmt.Errorf("auto-execute: gather candidates: %w", err)
	}

	limit := c.MaxConcurrentDispatch
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	var dispatched atomic.Int64
	for i := range candidates {
		p := &candidates[i]
		g.Go(func() error {
			ok, err := c.dispatchForExecution(ctx, p, true)
			if err != nil {
				return fmt.Errorf("dispatch plan %s: %w", p.ID, err)
			}
			if ok {
				dispatched.Add(1)
			}
			return nil
		})
	}

	// Dispatch errors are reported but don't abort the sweep: each plan's
	// dispatch is independent, and a single failure should not strand the
	// rest of the candidate set for another full sweep interval.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("auto-execute: %w", err)
	}

	c.Events.BroadcastEvent(ctx, ws.EventAutoExecuteSweep, ws.AutoExecuteSweepEvent{Dispatched: int(dispatched.Load())})
	return nil
}

// orphanedCandidates returns planned and running plans that currently hold
// no execution lock — the set auto-execute is responsible for resuming.
// Paused plans are never candidates: a paused-with-error plan awaits
// operator intervention, and a paused-pending plan awaits explicit resume.
func (c *Coordinator) orphanedCandidates(ctx context.Context) ([]plan.ExecutionPlan, error) {
	var out []plan.ExecutionPlan

	for _, state := range []plan.Status{plan.StatusPlanned, plan.StatusRunning} {
		plans, err := c.Store.ListPlans(ctx, plan.Filter{State: state})
		if err != nil {
			return nil, fmt.Errorf("list %s plans: %w", state, err)
		}
		for _, p := range plans {
			live, err := c.hasLiveExecutionLock(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			if !live {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (c *Coordinator) hasLiveExecutionLock(ctx context.Context, planID uuid.UUID) (bool, error) {
	locks, err := c.Locks.Find(ctx, lock.Filter{Class: lock.ClassExecutionPlan, IDPrefix: lock.ExecutionPlanID(planID)})
	if err != nil {
		return false, fmt.Errorf("find execution lock for plan %s: %w", planID, err)
	}
	for _, l := range locks {
		if l.Variant() == lock.VariantExecution {
			return true, nil
		}
	}
	return false, nil
}
