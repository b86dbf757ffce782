// Package memory implements the core's ports with plain mutex-guarded maps.
// It backs fast unit tests (the binary wires only the postgres adapters), in the same
// spirit as the teacher's mockStore test doubles — promoted here to a
// reusable adapter since the coordinator, invalidator, auto-execute sweep,
// and validity checker all need the same fakes.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/domain/plan"
)

// PlanStore is an in-memory planstore.Store.
type PlanStore struct {
	mu    sync.Mutex
	plans map[uuid.UUID]*plan.ExecutionPlan
}

// NewPlanStore creates an empty PlanStore.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[uuid.UUID]*plan.ExecutionPlan)}
}

func clonePlan(p *plan.ExecutionPlan) *plan.ExecutionPlan {
	cp := *p
	cp.Steps = append([]plan.Step(nil), p.Steps...)
	cp.History = append([]plan.Event(nil), p.History...)
	if p.ExecutorID != nil {
		id := *p.ExecutorID
		cp.ExecutorID = &id
	}
	if p.RescuePolicies != nil {
		cp.RescuePolicies = make(map[string]plan.RescueStrategy, len(p.RescuePolicies))
		for k, v := range p.RescuePolicies {
			cp.RescuePolicies[k] = v
		}
	}
	return &cp
}

// LoadPlan returns a copy of the stored plan, or domain.ErrNotFound.
func (s *PlanStore) LoadPlan(_ context.Context, id uuid.UUID) (*plan.ExecutionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePlan(p), nil
}

// SavePlan inserts or updates a plan, enforcing the Version optimistic
// concurrency token exactly as the teacher's postgres store does with its
// RowsAffected()==0 check.
func (s *PlanStore) SavePlan(_ context.Context, p *plan.ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.plans[p.ID]
	if !ok {
		if p.Version != 0 {
			return domain.ErrConflict
		}
		p.Version = 1
		s.plans[p.ID] = clonePlan(p)
		return nil
	}

	if existing.Version != p.Version {
		return domain.ErrConflict
	}
	p.Version++
	s.plans[p.ID] = clonePlan(p)
	return nil
}

// DeletePlans removes plans matching filter.
func (s *PlanStore) DeletePlans(_ context.Context, filter plan.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.plans {
		if filter.ID != nil && id != *filter.ID {
			continue
		}
		if filter.State != "" && p.State != filter.State {
			continue
		}
		delete(s.plans, id)
	}
	return nil
}

// ListPlans returns copies of plans matching filter.
func (s *PlanStore) ListPlans(_ context.Context, filter plan.Filter) ([]plan.ExecutionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []plan.ExecutionPlan
	for id, p := range s.plans {
		if filter.ID != nil && id != *filter.ID {
			continue
		}
		if filter.State != "" && p.State != filter.State {
			continue
		}
		out = append(out, *clonePlan(p))
	}
	return out, nil
}

// LoadStep returns a copy of a single step.
func (s *PlanStore) LoadStep(_ context.Context, planID uuid.UUID, stepID string) (*plan.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			st := p.Steps[i]
			return &st, nil
		}
	}
	return nil, domain.ErrNotFound
}

// SaveStep upserts a single step within a plan.
func (s *PlanStore) SaveStep(_ context.Context, planID uuid.UUID, step plan.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range p.Steps {
		if p.Steps[i].ID == step.ID {
			p.Steps[i] = step
			return nil
		}
	}
	p.Steps = append(p.Steps, step)
	return nil
}
