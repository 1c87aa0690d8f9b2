// Package pipeline defines the collaborator contracts the iteration
// controller drives: capture, analysis, implementation, scoring and
// reflection. Concrete backends live in the capture, provider and scoring
// packages; tests substitute mocks.
package pipeline

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
)

// Viewport is the browser viewport used for a capture.
type Viewport struct {
	Width  int `json:"width" koanf:"width"`
	Height int `json:"height" koanf:"height"`
}

// Snapshot is a captured visual state of the target.
type Snapshot struct {
	Data      []byte    `json:"-"`
	MediaType string    `json:"media_type"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// Issue is a problem observed during analysis.
type Issue struct {
	Dimension   string `json:"dimension"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

// ImprovementSpec is the structured output of analysis.
type ImprovementSpec struct {
	CurrentScore      float64                    `json:"current_score"`
	Issues            []Issue                    `json:"issues"`
	Recommendations   []changeset.Recommendation `json:"recommendations"`
	EstimatedNewScore float64                    `json:"estimated_new_score"`
}

// AnalysisInput bundles everything analysis is given for one iteration.
type AnalysisInput struct {
	Snapshot          Snapshot
	ContextDigest     string
	ProjectContext    string
	AvoidedComponents []string
}

// Evaluation is a scoring result for an after snapshot.
type Evaluation struct {
	CompositeScore  float64            `json:"composite_score"`
	DimensionScores map[string]float64 `json:"dimension_scores,omitempty"`
	TargetReached   bool               `json:"target_reached"`
	VisionScore     float64            `json:"vision_score"`
	MetricsScore    *float64           `json:"metrics_score,omitempty"`
	Confidence      float64            `json:"confidence"`
	Summary         string             `json:"summary,omitempty"`
}

// IterationContext is what reflection sees about a finished iteration.
type IterationContext struct {
	Iteration     int                  `json:"iteration"`
	BeforeScore   float64              `json:"before_score"`
	AfterScore    float64              `json:"after_score"`
	Delta         float64              `json:"delta"`
	Spec          *ImprovementSpec     `json:"spec"`
	ChangeSet     *changeset.ChangeSet `json:"changeset"`
	Evaluation    *Evaluation          `json:"evaluation"`
	MemorySummary string               `json:"memory_summary"`
}

// Reflection is the verdict of a reflection pass.
type Reflection struct {
	ShouldRollback bool     `json:"should_rollback"`
	Reasoning      string   `json:"reasoning"`
	Lessons        []string `json:"lessons,omitempty"`
}

// Capturer takes a snapshot of the running target.
type Capturer interface {
	Capture(ctx context.Context, target string, vp Viewport) (*Snapshot, error)
}

// Analyzer turns a snapshot into ranked recommendations.
type Analyzer interface {
	Analyze(ctx context.Context, in AnalysisInput) (*ImprovementSpec, error)
}

// Implementer turns approved recommendations into file changes. The returned
// ChangeSet is not yet applied to disk.
type Implementer interface {
	Implement(ctx context.Context, spec *ImprovementSpec, projectRoot string) (*changeset.ChangeSet, error)
}

// Evaluator scores a snapshot.
type Evaluator interface {
	Evaluate(ctx context.Context, snap *Snapshot) (*Evaluation, error)
}

// Reflector decides whether a build-successful change should be kept.
type Reflector interface {
	Reflect(ctx context.Context, ic IterationContext) (*Reflection, error)
}

// MetricsSource produces a runtime metrics score on the same 0-10 scale.
type MetricsSource interface {
	MetricsScore(ctx context.Context) (float64, error)
}

// NoReflection keeps every build-successful change.
type NoReflection struct{}

// Reflect implements Reflector.
func (NoReflection) Reflect(context.Context, IterationContext) (*Reflection, error) {
	return &Reflection{Reasoning: "reflection disabled"}, nil
}
