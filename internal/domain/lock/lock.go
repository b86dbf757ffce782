// Package lock defines the durable named-lock entity coordinated by the
// lock table (spec §4.2) and the kinds of locks the coordinator issues
// (spec §3).
package lock

import (
	"fmt"

	"github.com/google/uuid"
)

// Class identifies the kind of resource a lock guards.
type Class string

const (
	ClassWorldInvalidation Class = "world-invalidation"
	ClassExecutionPlan     Class = "execution-plan"
	ClassSingletonAction   Class = "singleton-action"
	ClassAutoExecute       Class = "auto-execute"
	ClassDelayedExecutor   Class = "delayed-executor"
)

// Variant distinguishes the two ways an execution-plan lock can be held:
// by the client materializing the plan (planning) or by the executor
// running it (execution). They never overlap for the same plan.
type Variant string

const (
	VariantPlanning  Variant = "planning"
	VariantExecution Variant = "execution"
)

// PayloadPlanID and PayloadVariant are the well-known Payload keys used by
// execution-plan and singleton-action locks.
const (
	PayloadPlanID  = "plan_id"
	PayloadVariant = "variant"
)

// Lock is a durable named lock. Every lock except auto-execute references a
// world id, a plan id, or both; dangling references are reclaimable orphans.
type Lock struct {
	ID           string            `json:"id"`
	OwnerWorldID *uuid.UUID        `json:"owner_world_id,omitempty"`
	Class        Class             `json:"class"`
	Payload      map[string]string `json:"payload,omitempty"`
}

// WorldInvalidationID builds the lock id that serializes invalidation of
// the given target world.
func WorldInvalidationID(targetWorldID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", ClassWorldInvalidation, targetWorldID)
}

// ExecutionPlanID builds the lock id for a plan's planning/execution lock.
func ExecutionPlanID(planID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", ClassExecutionPlan, planID)
}

// SingletonActionID builds the lock id for a uniquely-named action class.
func SingletonActionID(actionClass string) string {
	return fmt.Sprintf("%s:%s", ClassSingletonAction, actionClass)
}

// AutoExecuteID is the cluster-wide singleton lock id for the auto-execute
// sweep.
func AutoExecuteID() string {
	return string(ClassAutoExecute)
}

// DelayedExecutorID builds the lock id for the delayed-dispatch role held
// by a given world.
func DelayedExecutorID(worldID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", ClassDelayedExecutor, worldID)
}

// NewExecutionPlanLock builds an execution-plan lock value for the given
// owner, plan and variant (planning or execution).
func NewExecutionPlanLock(owner uuid.UUID, planID uuid.UUID, variant Variant) Lock {
	return Lock{
		ID:           ExecutionPlanID(planID),
		OwnerWorldID: &owner,
		Class:        ClassExecutionPlan,
		Payload: map[string]string{
			PayloadPlanID:  planID.String(),
			PayloadVariant: string(variant),
		},
	}
}

// Variant returns the lock's planning/execution variant, or "" if the lock
// is not an execution-plan lock or carries no variant.
func (l Lock) Variant() Variant {
	return Variant(l.Payload[PayloadVariant])
}

// PlanID returns the plan id referenced by an execution-plan or
// singleton-action lock's payload, or uuid.Nil if absent/invalid.
func (l Lock) PlanID() uuid.UUID {
	id, err := uuid.Parse(l.Payload[PayloadPlanID])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Filter narrows Find results by id prefix, owner, or class.
type Filter struct {
	IDPrefix string
	Owner    *uuid.UUID
	Class    Class
}
