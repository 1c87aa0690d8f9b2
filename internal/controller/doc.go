// Package controller drives one improvement run from the first capture to a
// terminal outcome.
//
// # Overview
//
// A run is a sequence of iterations. Each iteration walks a fixed set of
// phases:
//
//	Capturing → Analyzing → Filtering → Approving → Implementing → Verifying
//	  ├─ build failed: RollingBack → next iteration
//	  └─ build ok:     CapturingAfter → Evaluating → Recording → Reflecting → Deciding
//
// Phases run strictly one after another. The controller owns the run's
// memory.State and threads it through the phases explicitly; it is loaded
// once when the run starts and saved after every iteration.
//
// # Termination
//
// The run stops when the current score reaches the target, when the
// iteration budget is spent, or when a phase fails fatally. Build failures
// and regressions flagged by reflection are recovered by rolling the change
// set back; every other failure ends the run as failed. A report is written
// on every exit path, including cancellation.
//
// # Observability
//
// Every run and phase opens an OpenTelemetry span. Iteration outcomes,
// rollbacks, phase durations and the current score are recorded as metrics,
// and phase transitions are published as run events.
package controller
