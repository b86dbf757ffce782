// Package executor defines the runtime-executor contract consumed by the
// core (spec §6). The executor's internal step-scheduling algorithm is out
// of scope; the core only starts, resumes, and terminates plans on it.
package executor

import (
	"context"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain/plan"
)

// Result is delivered on the channel Execute returns — the Go expression
// of spec §6's "future<Plan>" (design note §9: tasks + channels, not
// callback chains).
type Result struct {
	Plan *plan.ExecutionPlan
	Err  error
}

// Executor is implemented by the runtime that actually runs a plan's
// steps. The invalidator never calls into a dead world's executor.
type Executor interface {
	// Execute starts or resumes running planID and returns a channel that
	// receives exactly one Result when the plan reaches a terminal or
	// suspended state.
	Execute(ctx context.Context, planID uuid.UUID) <-chan Result

	// Terminate asks the executor to stop all work for planID. The
	// returned channel is closed once termination completes.
	Terminate(ctx context.Context, planID uuid.UUID) <-chan struct{}
}
