package controller

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. Every error Run returns wraps exactly one of them, except
// cancellation which surfaces as the context error.
var (
	// ErrCapture indicates a snapshot could not be taken.
	ErrCapture = errors.New("capture failed")

	// ErrAnalysis indicates analysis or scoring of a snapshot failed.
	ErrAnalysis = errors.New("analysis failed")

	// ErrFilterExhaustion indicates every recommendation was filtered out.
	ErrFilterExhaustion = errors.New("no recommendations left after filtering")

	// ErrApprovalDenied indicates the approval gate rejected the changes.
	ErrApprovalDenied = errors.New("approval denied")

	// ErrImplementation indicates no change set could be produced or applied.
	ErrImplementation = errors.New("implementation failed")

	// ErrBuild indicates verification rejected an applied change set.
	// It is recovered by rolling back.
	ErrBuild = errors.New("build failed")

	// ErrRegression indicates reflection asked for a rollback. It is
	// recovered by rolling back.
	ErrRegression = errors.New("regression detected")

	// ErrMemoryIO indicates memory could not be read or written. The run
	// continues with in-memory state.
	ErrMemoryIO = errors.New("memory i/o failed")

	// ErrBackendStartup indicates the companion backend never became healthy.
	ErrBackendStartup = errors.New("backend startup failed")
)

// IterationError records where in a run a failure happened.
type IterationError struct {
	Phase     Phase
	Iteration int
	Kind      error
	Err       error
}

func (e *IterationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("iteration %d %s: %v", e.Iteration, e.Phase, e.Kind)
	}
	return fmt.Sprintf("iteration %d %s: %v: %v", e.Iteration, e.Phase, e.Kind, e.Err)
}

// Unwrap exposes both the failure kind and the cause to errors.Is.
func (e *IterationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func iterationError(phase Phase, iteration int, kind, err error) error {
	// Cancellation is reported as such, not as a collaborator failure.
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &IterationError{Phase: phase, Iteration: iteration, Kind: kind, Err: err}
}

// Recoverable reports whether err is handled inside the run by rolling back.
func Recoverable(err error) bool {
	return errors.Is(err, ErrBuild) || errors.Is(err, ErrRegression)
}
