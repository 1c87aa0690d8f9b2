package controller

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/vizloop/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/vizloop/internal/controller"

// instruments holds the run's tracer and metric instruments. Instruments
// that fail to register stay nil and are skipped.
type instruments struct {
	tracer        trace.Tracer
	iterations    metric.Int64Counter
	rollbacks     metric.Int64Counter
	phaseDuration metric.Float64Histogram
	score         metric.Float64Gauge
}

func newInstruments(tel *telemetry.Telemetry) *instruments {
	meter := tel.Meter(instrumentationName)
	in := &instruments{tracer: tel.Tracer(instrumentationName)}

	in.iterations, _ = meter.Int64Counter("vizloop.iterations_total",
		metric.WithDescription("Iterations finished, by outcome"),
		metric.WithUnit("{iteration}"))
	in.rollbacks, _ = meter.Int64Counter("vizloop.rollbacks_total",
		metric.WithDescription("Change sets rolled back, by reason"),
		metric.WithUnit("{rollback}"))
	in.phaseDuration, _ = meter.Float64Histogram("vizloop.phase_duration_seconds",
		metric.WithDescription("Time spent in each phase"),
		metric.WithUnit("s"))
	in.score, _ = meter.Float64Gauge("vizloop.score",
		metric.WithDescription("Current composite score of the run"))
	return in
}

func (in *instruments) iterationFinished(ctx context.Context, status string) {
	if in.iterations != nil {
		in.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (in *instruments) rolledBack(ctx context.Context, reason string) {
	if in.rollbacks != nil {
		in.rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (in *instruments) recordScore(ctx context.Context, runID string, score float64) {
	if in.score != nil {
		in.score.Record(ctx, score, metric.WithAttributes(attribute.String("run.id", runID)))
	}
}

// startPhase opens a span for phase and returns a function that ends it,
// recording the phase duration and any error.
func (in *instruments) startPhase(ctx context.Context, phase Phase, iteration int) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := in.tracer.Start(ctx, "vizloop.phase."+string(phase),
		trace.WithAttributes(
			attribute.String("phase", string(phase)),
			attribute.Int("iteration", iteration),
		))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if in.phaseDuration != nil {
			in.phaseDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("phase", string(phase))))
		}
	}
}
