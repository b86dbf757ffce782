package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "anchord"

// Metrics holds all coordination-core metric instruments.
type Metrics struct {
	LockAcquireAttempts metric.Int64Counter
	LockAcquireHeld     metric.Int64Counter
	LockReleases        metric.Int64Counter
	Invalidations       metric.Int64Counter
	InvalidationRetries metric.Int64Counter
	AutoExecuteSweeps   metric.Int64Counter
	PlansDispatched     metric.Int64Counter
	StaleWorldsFound    metric.Int64Counter
	OrphanedLocksFound  metric.Int64Counter
	InvalidationLatency metric.Float64Histogram
	SweepLatency        metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.LockAcquireAttempts, err = meter.Int64Counter("anchord.lock.acquire_attempts",
		metric.WithDescription("Number of lock acquire attempts"))
	if err != nil {
		return nil, err
	}

	m.LockAcquireHeld, err = meter.Int64Counter("anchord.lock.acquire_held",
		metric.WithDescription("Number of lock acquires that found the lock already held"))
	if err != nil {
		return nil, err
	}

	m.LockReleases, err = meter.Int64Counter("anchord.lock.releases",
		metric.WithDescription("Number of lock releases"))
	if err != nil {
		return nil, err
	}

	m.Invalidations, err = meter.Int64Counter("anchord.invalidations",
		metric.WithDescription("Number of world invalidations processed"))
	if err != nil {
		return nil, err
	}

	m.InvalidationRetries, err = meter.Int64Counter("anchord.invalidation.retries",
		metric.WithDescription("Number of invalidation retries after a version conflict"))
	if err != nil {
		return nil, err
	}

	m.AutoExecuteSweeps, err = meter.Int64Counter("anchord.autoexecute.sweeps",
		metric.WithDescription("Number of auto-execute sweeps run"))
	if err != nil {
		return nil, err
	}

	m.PlansDispatched, err = meter.Int64Counter("anchord.autoexecute.plans_dispatched",
		metric.WithDescription("Number of orphaned plans dispatched by an auto-execute sweep"))
	if err != nil {
		return nil, err
	}

	m.StaleWorldsFound, err = meter.Int64Counter("anchord.validity.stale_worlds",
		metric.WithDescription("Number of stale worlds found by a validity check"))
	if err != nil {
		return nil, err
	}

	m.OrphanedLocksFound, err = meter.Int64Counter("anchord.validity.orphaned_locks",
		metric.WithDescription("Number of orphaned locks found by a validity check"))
	if err != nil {
		return nil, err
	}

	m.InvalidationLatency, err = meter.Float64Histogram("anchord.invalidation.duration_seconds",
		metric.WithDescription("Invalidation duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.SweepLatency, err = meter.Float64Histogram("anchord.autoexecute.sweep_duration_seconds",
		metric.WithDescription("Auto-execute sweep duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
