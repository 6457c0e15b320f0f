package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "testpulse"

// Metrics holds all TestPulse metric instruments. A nil *Metrics records
// nothing, so callers never need to guard.
type Metrics struct {
	MatchPasses     metric.Int64Counter
	MatchedItems    metric.Int64Counter
	Regressions     metric.Int64Counter
	PassFailures    metric.Int64Counter
	PassDuration    metric.Float64Histogram
	EventsPublished metric.Int64Counter
	EventsDelivered metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all metric instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.MatchPasses, err = meter.Int64Counter("testpulse.match.passes",
		metric.WithDescription("Number of matching passes run"))
	if err != nil {
		return nil, err
	}

	m.MatchedItems, err = meter.Int64Counter("testpulse.match.matched_items",
		metric.WithDescription("Number of task items matched to a result"))
	if err != nil {
		return nil, err
	}

	m.Regressions, err = meter.Int64Counter("testpulse.match.regressions",
		metric.WithDescription("Number of works-local-fails-staging alerts raised"))
	if err != nil {
		return nil, err
	}

	m.PassFailures, err = meter.Int64Counter("testpulse.match.pass_failures",
		metric.WithDescription("Number of matching passes aborted by an error"))
	if err != nil {
		return nil, err
	}

	m.PassDuration, err = meter.Float64Histogram("testpulse.match.duration_seconds",
		metric.WithDescription("Matching pass duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.EventsPublished, err = meter.Int64Counter("testpulse.events.published",
		metric.WithDescription("Number of event envelopes published to the broker"))
	if err != nil {
		return nil, err
	}

	m.EventsDelivered, err = meter.Int64Counter("testpulse.events.delivered",
		metric.WithDescription("Number of event envelopes written to local connections"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPass records a finished matching pass.
func (m *Metrics) RecordPass(ctx context.Context, source string, matched, regressions int, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.MatchPasses.Add(ctx, 1, attrs)
	m.PassDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.PassFailures.Add(ctx, 1, attrs)
		return
	}
	m.MatchedItems.Add(ctx, int64(matched), attrs)
	m.Regressions.Add(ctx, int64(regressions), attrs)
}

// RecordPublished counts a broker publish for an audience ("team" or "admin").
func (m *Metrics) RecordPublished(ctx context.Context, audience string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("audience", audience),
		attribute.Bool("ok", err == nil),
	))
}

// RecordDelivered counts local deliveries for an audience.
func (m *Metrics) RecordDelivered(ctx context.Context, audience string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsDelivered.Add(ctx, int64(n), metric.WithAttributes(attribute.String("audience", audience)))
}
