package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/stacksampler"

// Tracer returns the tracer used by all sampler components. It follows the
// global provider, so spans go nowhere until Setup enables tracing.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// TraceBatch runs fn inside a span named operation and records the batch
// size, duration and outcome on it.
func TraceBatch(ctx context.Context, operation string, size int, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := Tracer().Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
		trace.WithAttributes(attribute.Int("batch.size", size)),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("batch.duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
