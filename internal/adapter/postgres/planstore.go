package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain"
	"github.com/anchorhq/anchord/internal/domain/plan"
	"github.com/anchorhq/anchord/internal/port/planstore"
)

// PlanStore implements planstore.Store over execution_plans/plan_steps.
type PlanStore struct {
	pool *pgxpool.Pool
}

var _ planstore.Store = (*PlanStore)(nil)

// NewPlanStore creates a PlanStore backed by the given pool.
func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

// LoadPlan implements planstore.Store.
func (s *PlanStore) LoadPlan(ctx context.Context, id uuid.UUID) (*plan.ExecutionPlan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, state, result, planner_world_id, executor_world_id::text, rescue_policies, history, version
		 FROM execution_plans WHERE id = $1`, id)

	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load plan %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}

	steps, err := s.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Steps = steps
	return &p, nil
}

// SavePlan implements planstore.Store: a version of 0 inserts a new row,
// otherwise the update is conditioned on the stored version matching,
// failing with domain.ErrConflict when it does not (spec §7).
func (s *PlanStore) SavePlan(ctx context.Context, p *plan.ExecutionPlan) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rescuePolicies, err := json.Marshal(p.RescuePolicies)
	if err != nil {
		return fmt.Errorf("marshal rescue policies: %w", err)
	}
	history, err := json.Marshal(p.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	var executorID *uuid.UUID
	if p.ExecutorID != nil {
		id := *p.ExecutorID
		executorID = &id
	}

	if p.Version == 0 {
		err = tx.QueryRow(ctx,
			`INSERT INTO execution_plans (id, state, result, planner_world_id, executor_world_id, rescue_policies, history)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING version`,
			p.ID, string(p.State), string(p.Result), p.PlannerID, executorID, rescuePolicies, history,
		).Scan(&p.Version)
		if err != nil {
			return fmt.Errorf("insert plan %s: %w", p.ID, err)
		}
	} else {
		tag, err := tx.Exec(ctx,
			`UPDATE execution_plans SET state = $2, result = $3, executor_world_id = $4,
			 rescue_policies = $5, history = $6, version = version + 1, updated_at = now()
			 WHERE id = $1 AND version = $7`,
			p.ID, string(p.State), string(p.Result), executorID, rescuePolicies, history, p.Version)
		if err != nil {
			return fmt.Errorf("update plan %s: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update plan %s: %w", p.ID, domain.ErrConflict)
		}
		p.Version++
	}

	if _, err := tx.Exec(ctx, `DELETE FROM plan_steps WHERE plan_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear steps for plan %s: %w", p.ID, err)
	}
	for i, step := range p.Steps {
		if _, err := tx.Exec(ctx,
			`INSERT INTO plan_steps (plan_id, id, ord, action_class, status, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, step.ID, i, step.ActionClass, string(step.Status), step.UpdatedAt); err != nil {
			return fmt.Errorf("insert step %s for plan %s: %w", step.ID, p.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit plan %s: %w", p.ID, err)
	}
	return nil
}

// DeletePlans implements planstore.Store.
func (s *PlanStore) DeletePlans(ctx context.Context, filter plan.Filter) error {
	var id uuid.UUID
	if filter.ID != nil {
		id = *filter.ID
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM execution_plans WHERE ($1 = '00000000-0000-0000-0000-000000000000' OR id = $1)
		 AND ($2 = '' OR state = $2)`,
		id, string(filter.State))
	if err != nil {
		return fmt.Errorf("delete plans: %w", err)
	}
	return nil
}

// ListPlans implements planstore.Store.
func (s *PlanStore) ListPlans(ctx context.Context, filter plan.Filter) ([]plan.ExecutionPlan, error) {
	var id uuid.UUID
	if filter.ID != nil {
		id = *filter.ID
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, state, result, planner_world_id, executor_world_id::text, rescue_policies, history, version
		 FROM execution_plans WHERE ($1 = '00000000-0000-0000-0000-000000000000' OR id = $1)
		 AND ($2 = '' OR state = $2) ORDER BY created_at ASC`,
		id, string(filter.State))
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []plan.ExecutionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		steps, err := s.loadSteps(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Steps = steps
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadStep implements planstore.Store.
func (s *PlanStore) LoadStep(ctx context.Context, planID uuid.UUID, stepID string) (*plan.Step, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, action_class, status, updated_at FROM plan_steps WHERE plan_id = $1 AND id = $2`,
		planID, stepID)
	st, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load step %s/%s: %w", planID, stepID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load step %s/%s: %w", planID, stepID, err)
	}
	return &st, nil
}

// SaveStep implements planstore.Store, upserting a single step row
// independent of the rest of the plan.
func (s *PlanStore) SaveStep(ctx context.Context, planID uuid.UUID, step plan.Step) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_steps SET action_class = $3, status = $4, updated_at = $5 WHERE plan_id = $1 AND id = $2`,
		planID, step.ID, step.ActionClass, string(step.Status), step.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save step %s/%s: %w", planID, step.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var nextOrd int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(ord) + 1, 0) FROM plan_steps WHERE plan_id = $1`, planID).Scan(&nextOrd); err != nil {
		return fmt.Errorf("compute step order for plan %s: %w", planID, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO plan_steps (plan_id, id, ord, action_class, status, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		planID, step.ID, nextOrd, step.ActionClass, string(step.Status), step.UpdatedAt); err != nil {
		return fmt.Errorf("insert step %s/%s: %w", planID, step.ID, err)
	}
	return nil
}

func (s *PlanStore) loadSteps(ctx context.Context, planID uuid.UUID) ([]plan.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, action_class, status, updated_at FROM plan_steps WHERE plan_id = $1 ORDER BY ord ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("load steps for plan %s: %w", planID, err)
	}
	defer rows.Close()

	var steps []plan.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

type scannableRow interface {
	Scan(dest ...any) error
}

func scanPlan(row scannableRow) (plan.ExecutionPlan, error) {
	var p plan.ExecutionPlan
	var state, result string
	var executorID *string
	var rescuePolicies, history []byte
	if err := row.Scan(&p.ID, &state, &result, &p.PlannerID, &executorID, &rescuePolicies, &history, &p.Version); err != nil {
		return plan.ExecutionPlan{}, fmt.Errorf("scan plan: %w", err)
	}
	p.State = plan.Status(state)
	p.Result = plan.Result(result)
	if executorID != nil {
		id, err := uuid.Parse(*executorID)
		if err != nil {
			return plan.ExecutionPlan{}, fmt.Errorf("parse executor_world_id: %w", err)
		}
		p.ExecutorID = &id
	}
	if len(rescuePolicies) > 0 {
		if err := json.Unmarshal(rescuePolicies, &p.RescuePolicies); err != nil {
			return plan.ExecutionPlan{}, fmt.Errorf("unmarshal rescue policies: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &p.History); err != nil {
			return plan.ExecutionPlan{}, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return p, nil
}

func scanStep(row scannableRow) (plan.Step, error) {
	var st plan.Step
	var status string
	if err := row.Scan(&st.ID, &st.ActionClass, &status, &st.UpdatedAt); err != nil {
		return plan.Step{}, fmt.Errorf("scan step: %w", err)
	}
	st.Status = plan.StepStatus(status)
	return st, nil
}
