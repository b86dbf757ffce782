package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/domain/plan"
	"github.com/anchorhq/anchord/internal/domain/world"
)

func TestAutoExecute_DispatchesOrphanedPlannedPlan(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()

	c, store, locks, registry := newTestCoordinator(t, self)
	mustRegister(t, registry, self, world.KindExecutor)

	planID := uuid.New()
	p := &plan.ExecutionPlan{ID: planID, State: plan.StatusPlanned, Steps: []plan.Step{{ID: "s1", Status: plan.StepStatusPending}}}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := c.AutoExecute(ctx); err != nil {
		t.Fatalf("AutoExecute: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ExecutorID == nil || *got.ExecutorID != self {
		t.Fatalf("executor = %v, want self %s (auto-execute prefers the local world)", got.ExecutorID, self)
	}

	// The sweep lock itself is released once dispatch has been kicked off.
	remaining, err := locks.Find(ctx, lock.Filter{IDPrefix: lock.AutoExecuteID()})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("auto-execute lock still held: %v", remaining)
	}
}

func TestAutoExecute_SkipsPlanWithLiveExecutionLock(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	other := uuid.New()

	c, store, locks, registry := newTestCoordinator(t, self)
	mustRegister(t, registry, self, world.KindExecutor)
	mustRegister(t, registry, other, world.KindExecutor)

	planID := uuid.New()
	p := &plan.ExecutionPlan{ID: planID, State: plan.StatusRunning, ExecutorID: &other, Steps: []plan.Step{{ID: "s1", Status: plan.StepStatusRunning}}}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	existing := lock.NewExecutionPlanLock(other, planID, lock.VariantExecution)
	if _, err := locks.Acquire(ctx, existing); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := c.AutoExecute(ctx); err != nil {
		t.Fatalf("AutoExecute: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("plan was mutated, want untouched (version %d)", got.Version)
	}
	if got.ExecutorID == nil || *got.ExecutorID != other {
		t.Fatalf("executor = %v, want unchanged %s", got.ExecutorID, other)
	}
}

func TestAutoExecute_SkipsPausedErrorPlan(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()

	c, store, _, registry := newTestCoordinator(t, self)
	mustRegister(t, registry, self, world.KindExecutor)

	planID := uuid.New()
	p := &plan.ExecutionPlan{ID: planID, State: plan.StatusPaused, Result: plan.ResultError, Steps: []plan.Step{{ID: "s1", Status: plan.StepStatusError}}}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := c.AutoExecute(ctx); err != nil {
		t.Fatalf("AutoExecute: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ExecutorID != nil {
		t.Fatalf("executor = %v, want nil (paused-error plans await operator intervention)", got.ExecutorID)
	}
}

func TestAutoExecute_SkipsStaleExecutor(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	live := uuid.New()

	c, store, _, registry := newTestCoordinator(t, self)
	if err := registry.Register(ctx, world.World{ID: self, Kind: world.KindExecutor, LastSeen: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("register self: %v", err)
	}
	mustRegister(t, registry, live, world.KindExecutor)

	planID := uuid.New()
	p := &plan.ExecutionPlan{ID: planID, State: plan.StatusPlanned, Steps: []plan.Step{{ID: "s1", Status: plan.StepStatusPending}}}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := c.AutoExecute(ctx); err != nil {
		t.Fatalf("AutoExecute: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ExecutorID == nil || *got.ExecutorID != live {
		t.Fatalf("executor = %v, want the live world %s (a stale self must not be picked)", got.ExecutorID, live)
	}
}

func TestAutoExecute_SecondSweepWhileFirstRunsIsNoOp(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()

	c, _, locks, _ := newTestCoordinator(t, self)

	other := uuid.New()
	if _, err := locks.Acquire(ctx, lock.Lock{ID: lock.AutoExecuteID(), OwnerWorldID: &other, Class: lock.ClassAutoExecute}); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := c.AutoExecute(ctx); err != nil {
		t.Fatalf("AutoExecute: %v", err)
	}

	remaining, err := locks.Find(ctx, lock.Filter{IDPrefix: lock.AutoExecuteID()})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(remaining) != 1 || remaining[0].OwnerWorldID == nil || *remaining[0].OwnerWorldID != other {
		t.Fatalf("concurrent sweep's lock was disturbed: %v", remaining)
	}
}
