package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain/plan"
	"github.com/anchorhq/anchord/internal/port/executor"
)

// Executor is a test double implementing executor.Executor. It records
// every Execute/Terminate call and lets a test script the Result delivered
// for each plan, matching the teacher's pattern of scriptable mock
// dependencies (mockEventStore's appendErr, mockStore's getProjectErr).
type Executor struct {
	mu        sync.Mutex
	executed  []uuid.UUID
	terminate []uuid.UUID
	Results   map[uuid.UUID]executor.Result // optional canned result per plan id
}

// NewExecutor creates an Executor test double.
func NewExecutor() *Executor {
	return &Executor{Results: make(map[uuid.UUID]executor.Result)}
}

// Execute implements executor.Executor.
func (e *Executor) Execute(_ context.Context, planID uuid.UUID) <-chan executor.Result {
	e.mu.Lock()
	e.executed = append(e.executed, planID)
	result, scripted := e.Results[planID]
	e.mu.Unlock()

	ch := make(chan executor.Result, 1)
	if scripted {
		ch <- result
	} else {
		ch <- executor.Result{Plan: &plan.ExecutionPlan{ID: planID}}
	}
	close(ch)
	return ch
}

// Terminate implements executor.Executor.
func (e *Executor) Terminate(_ context.Context, planID uuid.UUID) <-chan struct{} {
	e.mu.Lock()
	e.terminate = append(e.terminate, planID)
	e.mu.Unlock()

	ch := make(chan struct{})
	close(ch)
	return ch
}

// Executed returns the plan ids Execute was called with, in call order.
func (e *Executor) Executed() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uuid.UUID(nil), e.executed...)
}
