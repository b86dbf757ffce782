package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "anchord"

// StartInvalidationSpan starts a span for an invalidation of a crashed or
// shutting-down world.
func StartInvalidationSpan(ctx context.Context, worldID string, execute bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "invalidate",
		trace.WithAttributes(
			attribute.String("world.id", worldID),
			attribute.Bool("invalidation.execute", execute),
		),
	)
}

// StartLockSpan starts a span around a single lock acquire or release.
func StartLockSpan(ctx context.Context, op, lockID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lock."+op,
		trace.WithAttributes(
			attribute.String("lock.id", lockID),
			attribute.String("lock.op", op),
		),
	)
}

// StartSweepSpan starts a span for an auto-execute sweep.
func StartSweepSpan(ctx context.Context, dispatcherWorldID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "autoexecute.sweep",
		trace.WithAttributes(
			attribute.String("dispatcher.world_id", dispatcherWorldID),
		),
	)
}

// StartValidityCheckSpan starts a span for a worlds or locks validity check.
func StartValidityCheckSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "validity_check."+kind,
		trace.WithAttributes(
			attribute.String("validity_check.kind", kind),
		),
	)
}
