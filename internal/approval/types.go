package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
)

// Risk is the assessed risk of implementing a set of recommendations.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Rank orders risks; unknown risks rank highest.
func (r Risk) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// ParseRisk parses a risk name.
func ParseRisk(s string) (Risk, error) {
	switch Risk(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// Mode selects when the gate waits for an approver.
type Mode string

const (
	ModeAlways    Mode = "always"
	ModeThreshold Mode = "threshold"
	ModeAuto      Mode = "auto"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAlways || m == ModeThreshold || m == ModeAuto
}

// Source names what produced a decision.
type Source string

const (
	SourceAuto     Source = "auto"
	SourcePolicy   Source = "policy"
	SourceOperator Source = "operator"
	SourceTimeout  Source = "timeout"
)

// Assessment is the risk and cost estimate for a set of recommendations.
type Assessment struct {
	Risk          Risk    `json:"risk"`
	RiskPoints    int     `json:"risk_points"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Request is one pending approval.
type Request struct {
	ID              string                     `json:"id"`
	RunID           string                     `json:"run_id,omitempty"`
	Iteration       int                        `json:"iteration"`
	Recommendations []changeset.Recommendation `json:"recommendations"`
	Risk            Risk                       `json:"risk"`
	RiskPoints      int                        `json:"risk_points"`
	EstimatedCost   float64                    `json:"estimated_cost"`
	CreatedAt       time.Time                  `json:"created_at"`
	Deadline        time.Time                  `json:"deadline,omitempty"`
}

// Decision is the verdict for a Request.
type Decision struct {
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason,omitempty"`
	Source    Source    `json:"source,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}
