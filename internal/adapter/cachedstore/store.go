// Package cachedstore decorates a planstore.Store with a read-through cache
// for plan lookups, the same decorator-composition idiom internal/adapter/
// locklog uses for lock tables: wrap the port at construction, never reach
// for a global.
package cachedstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhq/anchord/internal/domain/plan"
	"github.com/anchorhq/anchord/internal/port/cache"
	"github.com/anchorhq/anchord/internal/port/planstore"
)

// Store wraps a planstore.Store, caching LoadPlan results and invalidating
// them on every SavePlan. ListPlans/DeletePlans/LoadStep/SaveStep pass
// through uncached: they're either bulk operations or need the freshest
// row for the optimistic-version check.
type Store struct {
	next  planstore.Store
	cache cache.Cache
	ttl   time.Duration
}

var _ planstore.Store = (*Store)(nil)

// Wrap returns a Store that caches next's LoadPlan results in c for ttl.
func Wrap(next planstore.Store, c cache.Cache, ttl time.Duration) *Store {
	return &Store{next: next, cache: c, ttl: ttl}
}

func planKey(id uuid.UUID) string {
	return "plan:" + id.String()
}

// LoadPlan implements planstore.Store, consulting the cache before falling
// through to next. A cache error or miss is never fatal: the next store is
// always the source of truth.
func (s *Store) LoadPlan(ctx context.Context, id uuid.UUID) (*plan.ExecutionPlan, error) {
	if data, ok, err := s.cache.Get(ctx, planKey(id)); err == nil && ok {
		var p plan.ExecutionPlan
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
	}

	p, err := s.next.LoadPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		_ = s.cache.Set(ctx, planKey(id), data, s.ttl)
	}
	return p, nil
}

// SavePlan implements planstore.Store, invalidating the cached entry so a
// stale read never survives a write.
func (s *Store) SavePlan(ctx context.Context, p *plan.ExecutionPlan) error {
	err := s.next.SavePlan(ctx, p)
	if err != nil {
		return err
	}
	if delErr := s.cache.Delete(ctx, planKey(p.ID)); delErr != nil {
		return fmt.Errorf("invalidate cached plan %s: %w", p.ID, delErr)
	}
	return nil
}

// DeletePlans implements planstore.Store. Filtered bulk deletes don't carry
// enough information to invalidate individual cache keys cheaply, so the
// cache is left to expire naturally via ttl.
func (s *Store) DeletePlans(ctx context.Context, filter plan.Filter) error {
	return s.next.DeletePlans(ctx, filter)
}

// ListPlans implements planstore.Store, passing through uncached.
func (s *Store) ListPlans(ctx context.Context, filter plan.Filter) ([]plan.ExecutionPlan, error) {
	return s.next.ListPlans(ctx, filter)
}

// LoadStep implements planstore.Store, passing through uncached.
func (s *Store) LoadStep(ctx context.Context, planID uuid.UUID, stepID string) (*plan.Step, error) {
	return s.next.LoadStep(ctx, planID, stepID)
}

// SaveStep implements planstore.Store. The cached whole-plan entry (if any)
// is invalidated since its Steps slice is now stale.
func (s *Store) SaveStep(ctx context.Context, planID uuid.UUID, step plan.Step) error {
	if err := s.next.SaveStep(ctx, planID, step); err != nil {
		return err
	}
	if delErr := s.cache.Delete(ctx, planKey(planID)); delErr != nil {
		return fmt.Errorf("invalidate cached plan %s: %w", planID, delErr)
	}
	return nil
}
