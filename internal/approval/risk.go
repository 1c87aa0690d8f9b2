package approval

import (
	"strings"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
)

const (
	sensitivePoints = 3

	highRiskPoints   = 20
	mediumRiskPoints = 8
	highRiskEffort   = 8

	// Token estimates per implementation call. Implementation prompts carry
	// the full content of candidate files, so input dominates.
	baseInputTokens    = 2000
	inputTokensPerRec  = 8000
	outputTokensPerRec = 3000
)

// sensitiveDimensions are changes that restructure a page rather than
// restyle it.
var sensitiveDimensions = map[string]bool{
	"layout":                   true,
	"spacing_layout":           true,
	"navigation":               true,
	"information_architecture": true,
}

// Pricing converts token counts into a dollar cost.
type Pricing interface {
	EstimateCost(inputTokens, outputTokens int) float64
}

// ClassifyRisk scores recommendations by effort, sensitivity of their
// dimension and the number of files they name.
func ClassifyRisk(recs []changeset.Recommendation) (Risk, int) {
	points := 0
	maxEffort := 0
	for _, r := range recs {
		points += r.Effort
		if r.Effort > maxEffort {
			maxEffort = r.Effort
		}
		if sensitiveDimensions[strings.ToLower(r.Dimension)] {
			points += sensitivePoints
		}
		points += len(r.TargetFiles)
	}

	switch {
	case points >= highRiskPoints || maxEffort >= highRiskEffort:
		return RiskHigh, points
	case points >= mediumRiskPoints:
		return RiskMedium, points
	default:
		return RiskLow, points
	}
}

// EstimateCost predicts the cost of implementing recs. A nil pricing yields
// zero.
func EstimateCost(recs []changeset.Recommendation, pricing Pricing) float64 {
	if pricing == nil || len(recs) == 0 {
		return 0
	}
	in := baseInputTokens + inputTokensPerRec*len(recs)
	out := outputTokensPerRec * len(recs)
	return pricing.EstimateCost(in, out)
}

// Assess classifies risk and estimates cost in one step.
func Assess(recs []changeset.Recommendation, pricing Pricing) Assessment {
	risk, points := ClassifyRisk(recs)
	return Assessment{
		Risk:          risk,
		RiskPoints:    points,
		EstimatedCost: EstimateCost(recs, pricing),
	}
}
