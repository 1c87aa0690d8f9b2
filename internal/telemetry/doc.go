// Package telemetry wires OpenTelemetry tracing and metrics for vizloop runs.
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("vizloop.controller").Start(ctx, "vizloop.run")
//	defer span.End()
//
// # Configuration
//
// Telemetry is disabled by default. When enabled, spans and metrics are
// exported over OTLP (grpc or http/protobuf) to the configured endpoint.
// Exporter failures degrade to the global no-op providers rather than
// failing the run.
//
// # Testing
//
// NewTestTelemetry records spans and metrics in memory:
//
//	tel := telemetry.NewTestTelemetry()
//	// ... run code under test ...
//	tel.AssertSpanExists(t, "vizloop.phase.capture")
//	tel.CounterValue(t, "vizloop.iterations_total")
package telemetry
