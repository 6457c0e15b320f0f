package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "testpulse"

// StartMatchSpan starts a span for one matching pass over a finished run.
func StartMatchSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "match.pass",
		trace.WithAttributes(attribute.String("run.id", runID)),
	)
}

// StartBroadcastSpan starts a span for fanning one event out to a team and the admin feed.
func StartBroadcastSpan(ctx context.Context, teamID, eventName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "events.broadcast",
		trace.WithAttributes(
			attribute.String("team.id", teamID),
			attribute.String("event.name", eventName),
		),
	)
}
