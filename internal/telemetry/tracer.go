package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BaSui01/membench"

// Tracer returns the harness tracer from the global provider. Without an SDK
// installed this is a noop, so callers never need to guard span creation.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartPhaseSpan opens a span for a per-question phase execution.
func StartPhaseSpan(ctx context.Context, phase, runID, questionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline.phase."+phase,
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("question.id", questionID),
		),
	)
}

// StartSearchSpan opens a span for one provider search inside an ensemble fan-out.
func StartSearchSpan(ctx context.Context, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "provider.search",
		trace.WithAttributes(attribute.String("provider.name", provider)),
	)
}
