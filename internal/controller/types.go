package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/events"
	"github.com/fyrsmithlabs/vizloop/internal/memory"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/retry"
	"github.com/fyrsmithlabs/vizloop/internal/telemetry"
	"github.com/fyrsmithlabs/vizloop/internal/verify"
)

// Phase is one step of the per-iteration state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseCapturing      Phase = "capturing"
	PhaseAnalyzing      Phase = "analyzing"
	PhaseFiltering      Phase = "filtering"
	PhaseApproving      Phase = "approving"
	PhaseImplementing   Phase = "implementing"
	PhaseVerifying      Phase = "verifying"
	PhaseRollingBack    Phase = "rolling_back"
	PhaseCapturingAfter Phase = "capturing_after"
	PhaseEvaluating     Phase = "evaluating"
	PhaseRecording      Phase = "recording"
	PhaseReflecting     Phase = "reflecting"
	PhaseDeciding       Phase = "deciding"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// transitions lists the phases reachable from each phase. Any phase may
// move to PhaseFailed.
var transitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseCapturing, PhaseDone},
	PhaseCapturing:      {PhaseAnalyzing},
	PhaseAnalyzing:      {PhaseFiltering},
	PhaseFiltering:      {PhaseApproving},
	PhaseApproving:      {PhaseImplementing},
	PhaseImplementing:   {PhaseVerifying},
	PhaseVerifying:      {PhaseRollingBack, PhaseCapturingAfter},
	PhaseRollingBack:    {PhaseDeciding},
	PhaseCapturingAfter: {PhaseEvaluating},
	PhaseEvaluating:     {PhaseRecording},
	PhaseRecording:      {PhaseReflecting},
	PhaseReflecting:     {PhaseRollingBack, PhaseDeciding},
	PhaseDeciding:       {PhaseCapturing, PhaseDone},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Phase) error {
	if to == PhaseFailed && from != PhaseDone && from != PhaseFailed {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", from, to)
}

// Config configures a Controller.
type Config struct {
	// RunID names the run; it doubles as the run directory name.
	RunID string

	// ProjectRoot is the source tree changes are applied to.
	ProjectRoot string

	// TargetURL is the page captured each iteration.
	TargetURL string

	Viewport pipeline.Viewport

	// MaxIterations bounds the run. Iterations are numbered from 0.
	MaxIterations int

	// TargetScore stops the run once the current score reaches it.
	TargetScore float64

	// SettleDelay is the wait between a successful build and the after
	// capture, giving dev servers time to reload.
	SettleDelay time.Duration

	// AvoidThreshold is passed to memory.State.AvoidedComponents.
	AvoidThreshold int

	// ProjectContext describes the stack of the target project for analysis.
	ProjectContext string

	// Retry wraps capture, analysis and implementation calls.
	Retry retry.Config
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if c.ProjectRoot == "" {
		return fmt.Errorf("project root is required")
	}
	if c.TargetURL == "" {
		return fmt.Errorf("target url is required")
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.TargetScore <= 0 {
		return fmt.Errorf("target score must be positive, got %v", c.TargetScore)
	}
	return nil
}

// ChangeApplier writes a change set to disk and returns it with snapshots.
type ChangeApplier interface {
	Apply(ctx context.Context, cs *changeset.ChangeSet) (*changeset.ChangeSet, error)
}

// BuildVerifier checks an applied change set.
type BuildVerifier interface {
	Verify(ctx context.Context, cs *changeset.ChangeSet) (*verify.Result, error)
}

// ChangeRollbacker undoes an applied change set.
type ChangeRollbacker interface {
	Rollback(ctx context.Context, cs *changeset.ChangeSet) (*verify.RollbackResult, error)
}

// ApprovalGate is the checkpoint before implementation.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, recs []changeset.Recommendation, iteration int, a approval.Assessment) (approval.Decision, error)
}

// BackendScope keeps a companion backend alive for the duration of fn.
type BackendScope interface {
	Run(ctx context.Context, fn func(context.Context) error) error
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Capturer    pipeline.Capturer
	Analyzer    pipeline.Analyzer
	Implementer pipeline.Implementer
	Evaluator   pipeline.Evaluator
	Reflector   pipeline.Reflector

	Applier    ChangeApplier
	Verifier   BuildVerifier
	Rollbacker ChangeRollbacker
	Gate       ApprovalGate

	// Pricing feeds approval cost estimates. Optional.
	Pricing approval.Pricing

	// Backend, when set, wraps the whole run.
	Backend BackendScope

	// Events receives phase transitions. Optional.
	Events events.Publisher

	// Telemetry provides tracers and meters. Optional.
	Telemetry *telemetry.Telemetry
}

func (d *Deps) validate() error {
	switch {
	case d.Capturer == nil:
		return fmt.Errorf("capturer is required")
	case d.Analyzer == nil:
		return fmt.Errorf("analyzer is required")
	case d.Implementer == nil:
		return fmt.Errorf("implementer is required")
	case d.Evaluator == nil:
		return fmt.Errorf("evaluator is required")
	case d.Applier == nil:
		return fmt.Errorf("applier is required")
	case d.Verifier == nil:
		return fmt.Errorf("verifier is required")
	case d.Rollbacker == nil:
		return fmt.Errorf("rollbacker is required")
	case d.Gate == nil:
		return fmt.Errorf("approval gate is required")
	}
	return nil
}

// Progress reports a phase transition.
type Progress struct {
	RunID     string
	Iteration int
	Phase     Phase
	Message   string
	Score     *float64
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(p Progress)

// runState is the mutable state of one run. It is owned by the goroutine
// executing Run.
type runState struct {
	memory *memory.State

	phase     Phase
	iteration int
	completed int

	// current is the running baseline: the last kept after-score, or the
	// first analysis score before any iteration finished.
	current     float64
	starting    float64
	baselineSet bool

	targetReached bool
}
