package memory

import (
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
)

// AttemptStatus is the outcome recorded for an attempted recommendation.
type AttemptStatus string

const (
	StatusSuccess    AttemptStatus = "success"
	StatusNoEffect   AttemptStatus = "no_effect"
	StatusFailed     AttemptStatus = "failed"
	StatusBrokeBuild AttemptStatus = "broke_build"
)

// IsFailure reports whether the status counts against touched components.
func (s AttemptStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusBrokeBuild
}

// Trend classifies the recent direction of the score history.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendPlateau   Trend = "plateau"
	TrendUnknown   Trend = "unknown"
)

// Attempt is a recommendation tagged with its outcome. Attempts are
// append-only; only a rollback rewrites the status of an existing one.
type Attempt struct {
	Recommendation changeset.Recommendation `json:"recommendation"`
	Iteration      int                      `json:"iteration"`
	Status         AttemptStatus            `json:"status"`
	FilesModified  []string                 `json:"files_modified,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
	RecordedAt     time.Time                `json:"recorded_at"`
}

// FailedChange records a recommendation that failed or broke the build.
type FailedChange struct {
	Recommendation changeset.Recommendation `json:"recommendation"`
	Reason         string                   `json:"reason"`
	Iteration      int                      `json:"iteration"`
}

// ScoreEntry is one iteration's score movement. Delta is always
// AfterScore - BeforeScore.
type ScoreEntry struct {
	Iteration   int     `json:"iteration"`
	BeforeScore float64 `json:"before_score"`
	AfterScore  float64 `json:"after_score"`
	Delta       float64 `json:"delta"`
}

// NewScoreEntry builds an entry with a consistent delta.
func NewScoreEntry(iteration int, before, after float64) ScoreEntry {
	return ScoreEntry{
		Iteration:   iteration,
		BeforeScore: before,
		AfterScore:  after,
		Delta:       after - before,
	}
}

// State is the cross-iteration memory of a single run.
//
// A State is owned by exactly one run and is not safe for concurrent use;
// the controller mutates it strictly between phases.
type State struct {
	Attempted          []Attempt              `json:"attempted"`
	SuccessfulChanges  []changeset.FileChange `json:"successful_changes"`
	FailedChanges      []FailedChange         `json:"failed_changes"`
	ScoreHistory       []ScoreEntry           `json:"score_history"`
	PlateauCount       int                    `json:"plateau_count"`
	ModificationCount  map[string]int         `json:"modification_count"`
	ModifiedComponents map[string]bool        `json:"modified_components"`
	LastContext        string                 `json:"last_context,omitempty"`
	UpdatedAt          time.Time              `json:"updated_at,omitempty"`
}
