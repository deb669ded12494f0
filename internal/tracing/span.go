package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan opens the root span for one run.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, runID, protocol, addr string) trace.Span {
	_, span := tracer.Start(ctx, protocol+" run",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("lanburn.run_id", runID),
		attribute.String("lanburn.protocol", protocol),
		attribute.String("lanburn.target", addr),
	)
	return span
}

// EndRunSpan records the run's final counters and closes its span.
func EndRunSpan(span trace.Span, attempted, succeeded, failed, bytes int64) {
	span.SetAttributes(
		attribute.Int64("lanburn.attempted", attempted),
		attribute.Int64("lanburn.succeeded", succeeded),
		attribute.Int64("lanburn.failed", failed),
		attribute.Int64("lanburn.bytes", bytes),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// StartOpSpan opens a span for a single operation.
func StartOpSpan(ctx context.Context, tracer trace.Tracer, protocol string) (context.Context, trace.Span) {
	return tracer.Start(ctx, protocol+" op",
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
