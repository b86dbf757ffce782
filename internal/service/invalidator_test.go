package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/adapter/inproc"
	"github.com/anchorhq/anchord/internal/adapter/locklog"
	"github.com/anchorhq/anchord/internal/adapter/memory"
	"github.com/anchorhq/anchord/internal/domain/lock"
	"github.com/anchorhq/anchord/internal/domain/plan"
	"github.com/anchorhq/anchord/internal/domain/world"
)

func newTestCoordinator(t *testing.T, selfID uuid.UUID) (*Coordinator, *memory.PlanStore, *locklog.Table, *memory.Registry) {
	t.Helper()
	store := memory.NewPlanStore()
	locks := locklog.Wrap(memory.NewLockTable())
	registry := memory.NewRegistry()
	net := inproc.NewNetwork()

	c := &Coordinator{
		Store:                 store,
		Locks:                 locks,
		Registry:              registry,
		Executor:              memory.NewExecutor(),
		Conn:                  inproc.New(net),
		SelfWorldID:           selfID,
		HeartbeatTimeout:      200 * time.Millisecond,
		MaxConcurrentDispatch: 4,
	}
	return c, store, locks, registry
}

func mustRegister(t *testing.T, r *memory.Registry, id uuid.UUID, kind world.Kind) {
	t.Helper()
	if err := r.Register(context.Background(), world.World{ID: id, Kind: kind, LastSeen: time.Now()}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

// S6-style scenario: invalidating a world holding a planning lock whose
// plan never left pending reassigns the plan to another live executor.
func TestInvalidate_PlanningHandoffToLiveExecutor(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()
	survivor := uuid.New()

	c, store, locks, registry := newTestCoordinator(t, self)
	mustRegister(t, registry, survivor, world.KindExecutor)

	planID := uuid.New()
	p := &plan.ExecutionPlan{
		ID:        planID,
		State:     plan.StatusPlanning,
		PlannerID: dead,
		Steps:     []plan.Step{{ID: "s1", Status: plan.StepStatusPending}},
	}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	planningLock := lock.NewExecutionPlanLock(dead, planID, lock.VariantPlanning)
	if _, err := locks.Acquire(ctx, planningLock); err != nil {
		t.Fatalf("acquire planning lock: %v", err)
	}
	locks.Reset()

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if got.ExecutorID == nil || *got.ExecutorID != survivor {
		t.Fatalf("plan executor = %v, want %s", got.ExecutorID, survivor)
	}
	if got.State != plan.StatusPlanning {
		t.Fatalf("plan state = %s, want unchanged planning (execution dispatch does not itself change state)", got.State)
	}

	remaining, err := locks.Find(ctx, lock.Filter{Owner: &dead})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("dead world still owns locks: %v", remaining)
	}

	// S6: lock world-invalidation:C, unlock execution-plan:P (planning),
	// lock execution-plan:P (execution), unlock world-invalidation:C.
	invID := lock.WorldInvalidationID(dead)
	planID_ := lock.ExecutionPlanID(planID)
	wantEntries := []string{
		"acquire " + invID + " ok=true err=<nil>",
		"release " + planID_ + " ok=true notHeld=false wrongOwner=false err=<nil>",
		"acquire " + planID_ + " ok=true err=<nil>",
		"release " + invID + " ok=true notHeld=false wrongOwner=false err=<nil>",
	}
	gotEntries := locks.Entries()
	if len(gotEntries) != len(wantEntries) {
		t.Fatalf("lock log = %v, want %v", gotEntries, wantEntries)
	}
	for i, want := range wantEntries {
		if gotEntries[i] != want {
			t.Fatalf("lock log[%d] = %q, want %q (full log: %v)", i, gotEntries[i], want, gotEntries)
		}
	}
}

// Planning-abort scenario: a planning lock whose plan partially progressed
// before the world died is aborted to stopped, not handed off.
func TestInvalidate_PlanningAbortedWhenPartiallyPlanned(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()

	c, store, locks, _ := newTestCoordinator(t, self)

	planID := uuid.New()
	p := &plan.ExecutionPlan{
		ID:        planID,
		State:     plan.StatusPlanning,
		PlannerID: dead,
		Steps: []plan.Step{
			{ID: "s1", Status: plan.StepStatusSuccess},
			{ID: "s2", Status: plan.StepStatusPending},
		},
	}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	planningLock := lock.NewExecutionPlanLock(dead, planID, lock.VariantPlanning)
	if _, err := locks.Acquire(ctx, planningLock); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != plan.StatusStopped {
		t.Fatalf("state = %s, want stopped", got.State)
	}
	if len(got.History) != 1 || got.History[0].Name != plan.EventAbortPlanning {
		t.Fatalf("history = %v, want single abort planning event", got.History)
	}
}

// S3-style scenario: an execution lock on a plan whose in-flight action
// class rescues by skip is stopped with remaining steps force-skipped.
func TestInvalidate_ExecutionSkipRescue(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()

	c, store, locks, _ := newTestCoordinator(t, self)

	planID := uuid.New()
	p := &plan.ExecutionPlan{
		ID:         planID,
		State:      plan.StatusRunning,
		ExecutorID: &dead,
		Steps: []plan.Step{
			{ID: "s1", ActionClass: "notify", Status: plan.StepStatusError},
			{ID: "s2", ActionClass: "notify", Status: plan.StepStatusPending},
		},
		RescuePolicies: map[string]plan.RescueStrategy{"notify": plan.RescueSkip},
	}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	execLock := lock.NewExecutionPlanLock(dead, planID, lock.VariantExecution)
	if _, err := locks.Acquire(ctx, execLock); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != plan.StatusStopped {
		t.Fatalf("state = %s, want stopped", got.State)
	}
	if got.Result != plan.ResultWarning {
		t.Fatalf("result = %s, want warning (a step had errored)", got.Result)
	}
	for _, s := range got.Steps {
		if s.Status != plan.StepStatusSkipped {
			t.Fatalf("step %s = %s, want skipped", s.ID, s.Status)
		}
	}
}

// Reassignment: an execution lock with no skip policy moves to a live
// executor, preserving the running state with a fresh history entry.
func TestInvalidate_ExecutionReassignedToLiveExecutor(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()
	survivor := uuid.New()

	c, store, locks, registry := newTestCoordinator(t, self)
	mustRegister(t, registry, survivor, world.KindExecutor)

	planID := uuid.New()
	p := &plan.ExecutionPlan{
		ID:         planID,
		State:      plan.StatusRunning,
		ExecutorID: &dead,
		Steps:      []plan.Step{{ID: "s1", ActionClass: "build", Status: plan.StepStatusRunning}},
	}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	execLock := lock.NewExecutionPlanLock(dead, planID, lock.VariantExecution)
	if _, err := locks.Acquire(ctx, execLock); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ExecutorID == nil || *got.ExecutorID != survivor {
		t.Fatalf("executor = %v, want %s", got.ExecutorID, survivor)
	}
	if got.State != plan.StatusRunning {
		t.Fatalf("state = %s, want running", got.State)
	}

	var names []string
	for _, e := range got.History {
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != plan.EventTerminateExecution || names[1] != plan.EventStartExecution {
		t.Fatalf("history = %v, want [terminate execution, start execution]", names)
	}
}

// When no live executor exists, a reassigned plan pauses instead.
func TestInvalidate_ExecutionPausedWhenNoExecutorAlive(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()

	c, store, locks, _ := newTestCoordinator(t, self)

	planID := uuid.New()
	p := &plan.ExecutionPlan{
		ID:         planID,
		State:      plan.StatusRunning,
		ExecutorID: &dead,
		Steps:      []plan.Step{{ID: "s1", Status: plan.StepStatusRunning}},
	}
	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	execLock := lock.NewExecutionPlanLock(dead, planID, lock.VariantExecution)
	if _, err := locks.Acquire(ctx, execLock); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	got, err := store.LoadPlan(ctx, planID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != plan.StatusPaused {
		t.Fatalf("state = %s, want paused", got.State)
	}
	if got.Result != plan.ResultPending {
		t.Fatalf("result = %s, want pending", got.Result)
	}
	if got.ExecutorID != nil {
		t.Fatalf("executor = %v, want nil", got.ExecutorID)
	}
}

// S5-style scenario: an execution lock references a plan that no longer
// exists in the store. Invalidate must not crash, and must still release
// the dangling lock.
func TestInvalidate_ExecutionLockOnMissingPlan(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()
	missingPlanID := uuid.New()

	c, _, locks, _ := newTestCoordinator(t, self)

	execLock := lock.NewExecutionPlanLock(dead, missingPlanID, lock.VariantExecution)
	if _, err := locks.Acquire(ctx, execLock); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	locks.Reset()

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	remaining, err := locks.Find(ctx, lock.Filter{Owner: &dead})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("dangling execution lock survived: %v", remaining)
	}

	// S5: lock world-invalidation:E, unlock execution-plan:missing,
	// unlock world-invalidation:E.
	invID := lock.WorldInvalidationID(dead)
	planID_ := lock.ExecutionPlanID(missingPlanID)
	wantEntries := []string{
		"acquire " + invID + " ok=true err=<nil>",
		"release " + planID_ + " ok=true notHeld=false wrongOwner=false err=<nil>",
		"release " + invID + " ok=true notHeld=false wrongOwner=false err=<nil>",
	}
	gotEntries := locks.Entries()
	if len(gotEntries) != len(wantEntries) {
		t.Fatalf("lock log = %v, want %v", gotEntries, wantEntries)
	}
	for i, want := range wantEntries {
		if gotEntries[i] != want {
			t.Fatalf("lock log[%d] = %q, want %q (full log: %v)", i, gotEntries[i], want, gotEntries)
		}
	}
}

// S4-style scenario: a second invalidation of the same target while the
// first is still in flight is a no-op (the outer lock serializes them) —
// the losing caller's attempt shows up in the lock log as a failed
// acquire and nothing else; it never reaches a release.
func TestInvalidate_SecondCallerIsNoOp(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()

	c, _, locks, _ := newTestCoordinator(t, self)

	invLockID := lock.WorldInvalidationID(dead)
	other := uuid.New()
	if _, err := locks.Acquire(ctx, lock.Lock{ID: invLockID, OwnerWorldID: &other, Class: lock.ClassWorldInvalidation}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	locks.Reset()

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	remaining, err := locks.Find(ctx, lock.Filter{IDPrefix: invLockID})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(remaining) != 1 || remaining[0].OwnerWorldID == nil || *remaining[0].OwnerWorldID != other {
		t.Fatalf("invalidation lock was disturbed by the concurrent caller: %v", remaining)
	}

	wantEntries := []string{"acquire " + invLockID + " ok=false err=<nil>"}
	gotEntries := locks.Entries()
	if len(gotEntries) != len(wantEntries) || gotEntries[0] != wantEntries[0] {
		t.Fatalf("lock log = %v, want %v (losing caller must never reach a release)", gotEntries, wantEntries)
	}
}

// Misc and singleton-action locks are released unconditionally.
func TestInvalidate_ReleasesMiscAndSingletonLocks(t *testing.T) {
	ctx := context.Background()
	self := uuid.New()
	dead := uuid.New()

	c, _, locks, _ := newTestCoordinator(t, self)

	singleton := lock.Lock{ID: lock.SingletonActionID("deploy"), OwnerWorldID: &dead, Class: lock.ClassSingletonAction}
	misc := lock.Lock{ID: lock.DelayedExecutorID(dead), OwnerWorldID: &dead, Class: lock.ClassDelayedExecutor}
	if _, err := locks.Acquire(ctx, singleton); err != nil {
		t.Fatalf("acquire singleton: %v", err)
	}
	if _, err := locks.Acquire(ctx, misc); err != nil {
		t.Fatalf("acquire misc: %v", err)
	}

	if err := c.Invalidate(ctx, dead); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	remaining, err := locks.Find(ctx, lock.Filter{Owner: &dead})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("locks still owned by dead world: %v", remaining)
	}
}
