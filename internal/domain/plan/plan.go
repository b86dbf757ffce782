// Package plan defines the ExecutionPlan domain entity coordinated by the
// fleet core: a durable record of a workflow instance, owned sequentially
// by its planning world and then its executor world.
package plan

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an execution plan. Legal
// transitions form the DAG documented in transitions.go.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusPlanned   Status = "planned"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether the plan will never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusStopped
}

// Result is the outcome recorded alongside a plan's status.
type Result string

const (
	ResultPending Result = "pending"
	ResultSuccess Result = "success"
	ResultWarning Result = "warning"
	ResultError   Result = "error"
)

// StepStatus represents the lifecycle state of an individual step. The
// core only reads/writes this field; step semantics otherwise belong to
// the executor.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSuccess   StepStatus = "success"
	StepStatusError     StepStatus = "error"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusSuspended StepStatus = "suspended"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusError, StepStatusSkipped:
		return true
	}
	return false
}

// RescueStrategy is a per-action-class policy consulted by the invalidator
// when cleaning up a crashed plan (spec §4.4.b, §8 property 5).
type RescueStrategy string

const (
	RescueSkip    RescueStrategy = "skip"
	RescueDefault RescueStrategy = "reassign"
)

// Step is one unit of work in an execution plan. ActionClass names the
// per-action-class attribute used to resolve singleton-action locks and
// rescue strategy; the core never interprets it further.
type Step struct {
	ID          string     `json:"id"`
	ActionClass string     `json:"action_class,omitempty"`
	Status      StepStatus `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event is an append-only execution history entry. The invalidator and
// auto-execute append "terminate execution", "start execution" and
// "abort planning" entries; the "finish execution" and "pause execution"
// names are defined here but not written by this module.
type Event struct {
	Name      string    `json:"name"`
	WorldID   uuid.UUID `json:"world_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventStartExecution     = "start execution"
	EventTerminateExecution = "terminate execution"
	EventFinishExecution    = "finish execution"
	EventPauseExecution     = "pause execution"
	EventAbortPlanning      = "abort planning"
)

// ExecutionPlan is the durable record of a workflow instance. Steps
// preserves creation order (the "ordered map<step_id, Step>" of spec §3).
type ExecutionPlan struct {
	ID         uuid.UUID  `json:"id"`
	State      Status     `json:"state"`
	Result     Result     `json:"result"`
	Steps      []Step     `json:"steps"`
	History    []Event    `json:"execution_history"`
	PlannerID  uuid.UUID  `json:"planner_world_id"`
	ExecutorID *uuid.UUID `json:"executor_world_id,omitempty"`

	// RescuePolicies maps an ActionClass to its RescueStrategy. A class not
	// present here defaults to RescueDefault.
	RescuePolicies map[string]RescueStrategy `json:"rescue_policies,omitempty"`

	// Version is the optimistic-concurrency token; SavePlan fails with
	// domain.ErrConflict if it does not match the stored value.
	Version int `json:"version"`
}

// StepByID returns a pointer into p.Steps for the given step id, or nil.
func (p *ExecutionPlan) StepByID(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// RescueStrategyFor returns the configured rescue strategy for the step's
// action class, defaulting to RescueDefault.
func (p *ExecutionPlan) RescueStrategyFor(s Step) RescueStrategy {
	if rs, ok := p.RescuePolicies[s.ActionClass]; ok {
		return rs
	}
	return RescueDefault
}

// AnyStepNotPending reports whether any step has left the pending state —
// used by the invalidator to distinguish a plan that never started
// planning from one that was mid-plan when its world died.
func (p *ExecutionPlan) AnyStepNotPending() bool {
	for _, s := range p.Steps {
		if s.Status != StepStatusPending {
			return true
		}
	}
	return false
}

// AppendEvent appends a history event. History is append-only and its
// timestamps are non-decreasing per plan (spec §8 property 4); callers
// must supply non-decreasing timestamps.
func (p *ExecutionPlan) AppendEvent(name string, worldID uuid.UUID, at time.Time) {
	p.History = append(p.History, Event{Name: name, WorldID: worldID, Timestamp: at})
}

// ActionClassesInFlight returns the distinct, non-empty action classes of
// steps that are not yet terminal — the set of singleton-action locks this
// plan should be holding while it runs.
func (p *ExecutionPlan) ActionClassesInFlight() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range p.Steps {
		if s.ActionClass == "" || s.Status.IsTerminal() {
			continue
		}
		if !seen[s.ActionClass] {
			seen[s.ActionClass] = true
			out = append(out, s.ActionClass)
		}
	}
	return out
}

// Filter narrows DeletePlans/listing by id or state.
type Filter struct {
	ID    *uuid.UUID
	State Status
}
