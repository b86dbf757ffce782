// Package planstore defines the persistence-gateway port for execution
// plans and their steps (spec §4.1).
package planstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain/plan"
)

// Store is the port interface for plan/step CRUD. Every mutation is atomic
// against concurrent readers on the same row. SavePlan enforces optimistic
// concurrency via plan.ExecutionPlan.Version, failing with
// domain.ErrConflict on mismatch; a plan with Version 0 and a new id is
// inserted. SaveStep does not check a version. LoadPlan and LoadStep fail
// with domain.ErrNotFound when the id is absent.
type Store interface {
	LoadPlan(ctx context.Context, id uuid.UUID) (*plan.ExecutionPlan, error)
	SavePlan(ctx context.Context, p *plan.ExecutionPlan) error
	DeletePlans(ctx context.Context, filter plan.Filter) error
	ListPlans(ctx context.Context, filter plan.Filter) ([]plan.ExecutionPlan, error)

	// LoadStep and SaveStep operate on a single step row, independent of the
	// rest of the plan, matching the per-row atomicity contract of spec §4.1.
	LoadStep(ctx context.Context, planID uuid.UUID, stepID string) (*plan.Step, error)
	SaveStep(ctx context.Context, planID uuid.UUID, step plan.Step) error
}
