package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseCapturing, true},
		{PhaseCapturing, PhaseAnalyzing, true},
		{PhaseVerifying, PhaseRollingBack, true},
		{PhaseVerifying, PhaseCapturingAfter, true},
		{PhaseRollingBack, PhaseDeciding, true},
		{PhaseReflecting, PhaseRollingBack, true},
		{PhaseDeciding, PhaseCapturing, true},
		{PhaseDeciding, PhaseDone, true},
		{PhaseApproving, PhaseFailed, true},
		{PhaseCapturing, PhaseImplementing, false},
		{PhaseFiltering, PhaseImplementing, false},
		{PhaseVerifying, PhaseEvaluating, false},
		{PhaseDone, PhaseFailed, false},
		{PhaseDone, PhaseCapturing, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			err := CanTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIterationError(t *testing.T) {
	cause := errors.New("timeout waiting for page")
	err := error(&IterationError{Phase: PhaseCapturing, Iteration: 2, Kind: ErrCapture, Err: cause})

	assert.ErrorIs(t, err, ErrCapture)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAnalysis)
	assert.Equal(t, "iteration 2 capturing: capture failed: timeout waiting for page", err.Error())

	bare := &IterationError{Phase: PhaseFiltering, Iteration: 0, Kind: ErrFilterExhaustion}
	assert.ErrorIs(t, bare, ErrFilterExhaustion)
	assert.Equal(t, "iteration 0 filtering: no recommendations left after filtering", bare.Error())
}

func TestIterationErrorHelperKeepsCancellation(t *testing.T) {
	err := iterationError(PhaseApproving, 1, ErrApprovalDenied, fmt.Errorf("waiting: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrApprovalDenied)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(&IterationError{Kind: ErrBuild}))
	assert.True(t, Recoverable(fmt.Errorf("wrapped: %w", ErrRegression)))
	assert.False(t, Recoverable(&IterationError{Kind: ErrApprovalDenied}))
	assert.False(t, Recoverable(ErrMemoryIO))
}

func TestConfigValidate(t *testing.T) {
	valid := Config{RunID: "r", ProjectRoot: "/p", TargetURL: "http://x", MaxIterations: 1, TargetScore: 8}
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Config){
		"run id":         func(c *Config) { c.RunID = "" },
		"project root":   func(c *Config) { c.ProjectRoot = "" },
		"target url":     func(c *Config) { c.TargetURL = "" },
		"max iterations": func(c *Config) { c.MaxIterations = 0 },
		"target score":   func(c *Config) { c.TargetScore = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.ErrorContains(t, c.Validate(), name)
		})
	}
}
