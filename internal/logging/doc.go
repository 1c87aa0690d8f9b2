// Package logging provides structured logging for vizloop runs.
//
// Logger wraps zap with context-aware methods that inject run correlation
// fields (run.id, iteration, phase) and OpenTelemetry trace ids:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithIteration(ctx, 3)
//	ctx = logging.WithPhase(ctx, "verify")
//	logger.Info(ctx, "build finished", zap.Duration("duration", d))
//
// produces
//
//	{"level":"info","msg":"build finished","run.id":"...","iteration":3,"phase":"verify","duration":"4.2s"}
//
// Fields whose keys look like credentials are masked by a redacting encoder,
// and output can be teed into an OpenTelemetry log provider through otelzap.
//
// Leaf packages take a plain *zap.Logger; pass Underlying() to them.
package logging
