// Package scoring turns an after snapshot into the composite score an
// iteration is judged by, optionally blending a vision score with a runtime
// metrics score.
package scoring

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
)

const (
	// MaxScore is the top of the scoring scale.
	MaxScore = 10.0

	singleSignalConfidence = 0.7
)

// Weights is the blend of vision and metrics scores. Weights need not sum to
// one; they are normalized.
type Weights struct {
	Vision  float64 `koanf:"vision_weight"`
	Metrics float64 `koanf:"metrics_weight"`
}

// DefaultWeights is the standard 0.6/0.4 blend.
func DefaultWeights() Weights {
	return Weights{Vision: 0.6, Metrics: 0.4}
}

// Blend combines a vision score with an optional metrics score. Confidence
// is 1 when the two agree and falls linearly with their distance. Without a
// metrics score the vision score is returned with a fixed lower confidence.
func Blend(vision float64, metrics *float64, w Weights) (score, confidence float64) {
	vision = clamp(vision)
	if metrics == nil || w.Metrics <= 0 {
		return vision, singleSignalConfidence
	}
	m := clamp(*metrics)
	total := w.Vision + w.Metrics
	if total <= 0 {
		w = DefaultWeights()
		total = 1
	}
	score = (vision*w.Vision + m*w.Metrics) / total
	confidence = 1 - math.Abs(vision-m)/MaxScore
	return round2(score), round2(confidence)
}

// Evaluator blends a vision evaluator with an optional metrics source.
type Evaluator struct {
	vision  pipeline.Evaluator
	metrics pipeline.MetricsSource
	weights Weights
	target  float64
	logger  *zap.Logger
}

// NewEvaluator creates a blending evaluator. metrics may be nil.
func NewEvaluator(vision pipeline.Evaluator, metrics pipeline.MetricsSource, w Weights, target float64, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{vision: vision, metrics: metrics, weights: w, target: target, logger: logger}
}

// Evaluate implements pipeline.Evaluator. A failing metrics source degrades
// to the vision score alone.
func (e *Evaluator) Evaluate(ctx context.Context, snap *pipeline.Snapshot) (*pipeline.Evaluation, error) {
	ev, err := e.vision.Evaluate(ctx, snap)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("vision evaluator returned no result")
	}

	out := *ev
	out.VisionScore = ev.CompositeScore

	if e.metrics != nil {
		m, err := e.metrics.MetricsScore(ctx)
		if err != nil {
			e.logger.Warn("metrics score unavailable, using vision score only", zap.Error(err))
		} else {
			out.MetricsScore = &m
		}
	}

	out.CompositeScore, out.Confidence = Blend(out.VisionScore, out.MetricsScore, e.weights)
	out.TargetReached = out.CompositeScore >= e.target
	return &out, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(MaxScore, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
