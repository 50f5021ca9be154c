package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "workflow-assistant/backend"

// Telemetry records workflow turns, safety rejections and state sweeps.
type Telemetry struct {
	tracer     trace.Tracer
	turns      metric.Int64Counter
	rejections metric.Int64Counter
	sweeps     metric.Int64Counter
	reminders  metric.Int64Counter
}

// New creates instruments from the given providers. Nil providers fall back
// to the otel globals.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Telemetry, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}
	var err error
	if t.turns, err = meter.Int64Counter("workflow.turns",
		metric.WithDescription("Workflow turns by workflow and outcome")); err != nil {
		return nil, err
	}
	if t.rejections, err = meter.Int64Counter("workflow.safety.rejections",
		metric.WithDescription("Tool selections rejected by the safety validator")); err != nil {
		return nil, err
	}
	if t.sweeps, err = meter.Int64Counter("workflow.state.swept",
		metric.WithDescription("Expired workflow states removed")); err != nil {
		return nil, err
	}
	if t.reminders, err = meter.Int64Counter("workflow.reminders.delivered",
		metric.WithDescription("Reminders delivered")); err != nil {
		return nil, err
	}
	return t, nil
}

// Default returns Telemetry on the otel globals. Instrument creation on the
// global providers does not fail.
func Default() *Telemetry {
	t, err := New(nil, nil)
	if err != nil {
		panic(err)
	}
	return t
}

// StartTurn opens a span for one workflow turn. The returned function ends
// it and counts the outcome.
func (t *Telemetry) StartTurn(ctx context.Context, workflowID string) (context.Context, func(outcome string, err error)) {
	ctx, span := t.tracer.Start(ctx, "workflow.turn", trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	return ctx, func(outcome string, err error) {
		span.SetAttributes(attribute.String("workflow.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		t.turns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("outcome", outcome),
		))
	}
}

// Rejection counts one safety rejection of the given kind.
func (t *Telemetry) Rejection(ctx context.Context, kind string) {
	t.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Swept counts states removed by a sweep.
func (t *Telemetry) Swept(ctx context.Context, n int) {
	if n > 0 {
		t.sweeps.Add(ctx, int64(n))
	}
}

// ReminderDelivered counts one delivered reminder.
func (t *Telemetry) ReminderDelivered(ctx context.Context) {
	t.reminders.Add(ctx, 1)
}
