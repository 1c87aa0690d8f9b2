package runlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/gitinfo"
	"github.com/fyrsmithlabs/vizloop/internal/memory"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IterationSummary is one row of the run report.
type IterationSummary struct {
	Iteration       int                  `json:"iteration"`
	Status          memory.AttemptStatus `json:"status,omitempty"`
	BeforeScore     float64              `json:"before_score"`
	AfterScore      float64              `json:"after_score"`
	Delta           float64              `json:"delta"`
	Recommendations int                  `json:"recommendations"`
	FilesChanged    int                  `json:"files_changed"`
	RolledBack      bool                 `json:"rolled_back"`
	Error           string               `json:"error,omitempty"`
}

// Evaluated reports whether the iteration reached scoring.
func (s IterationSummary) Evaluated() bool {
	switch s.Status {
	case memory.StatusSuccess, memory.StatusNoEffect, memory.StatusFailed:
		return true
	}
	return false
}

// Report is the final record of a run.
type Report struct {
	RunID           string              `json:"run_id"`
	Status          Status              `json:"status"`
	ProjectRoot     string              `json:"project_root"`
	TargetURL       string              `json:"target_url"`
	Revision        *gitinfo.Revision   `json:"revision,omitempty"`
	StartingScore   float64             `json:"starting_score"`
	FinalScore      float64             `json:"final_score"`
	Improvement     float64             `json:"improvement"`
	TargetScore     float64             `json:"target_score"`
	TargetReached   bool                `json:"target_reached"`
	TotalIterations int                 `json:"total_iterations"`
	MaxIterations   int                 `json:"max_iterations"`
	BestIteration   int                 `json:"best_iteration"`
	BestScore       float64             `json:"best_score"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	Duration        time.Duration       `json:"duration"`
	Error           string              `json:"error,omitempty"`
	Deviations      []string            `json:"deviations,omitempty"`
	Iterations      []IterationSummary  `json:"iterations"`
	ScoreHistory    []memory.ScoreEntry `json:"score_history"`
}

// BestIteration returns the evaluated iteration with the highest after
// score, earliest first on ties. It returns -1 when none was evaluated.
func BestIteration(iterations []IterationSummary) (int, float64) {
	best, score := -1, 0.0
	for _, it := range iterations {
		if !it.Evaluated() {
			continue
		}
		if best == -1 || it.AfterScore > score {
			best, score = it.Iteration, it.AfterScore
		}
	}
	return best, score
}

// FormatSummary renders the report as markdown.
func FormatSummary(r *Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Run %s\n\n", r.RunID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", r.Status))
	if r.TargetURL != "" {
		sb.WriteString(fmt.Sprintf("**Target:** %s\n", r.TargetURL))
	}
	if r.Revision != nil {
		rev := r.Revision.Short()
		if r.Revision.Branch != "" {
			rev = r.Revision.Branch + "@" + rev
		}
		if r.Revision.Dirty {
			rev += " (dirty)"
		}
		sb.WriteString(fmt.Sprintf("**Revision:** %s\n", rev))
	}
	sb.WriteString(fmt.Sprintf("**Duration:** %s\n\n", r.Duration.Round(time.Second)))

	sb.WriteString("## Scores\n\n")
	sb.WriteString("| Metric | Value |\n|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Starting score | %.2f |\n", r.StartingScore))
	sb.WriteString(fmt.Sprintf("| Final score | %.2f |\n", r.FinalScore))
	sb.WriteString(fmt.Sprintf("| Improvement | %+.2f |\n", r.Improvement))
	sb.WriteString(fmt.Sprintf("| Target | %.2f (%s) |\n", r.TargetScore, reached(r.TargetReached)))
	sb.WriteString(fmt.Sprintf("| Iterations | %d of %d |\n", r.TotalIterations, r.MaxIterations))
	if r.BestIteration >= 0 {
		sb.WriteString(fmt.Sprintf("| Best iteration | %d (%.2f) |\n", r.BestIteration, r.BestScore))
	} else {
		sb.WriteString("| Best iteration | none |\n")
	}
	sb.WriteString("\n")

	if len(r.Iterations) > 0 {
		sb.WriteString("## Iterations\n\n")
		sb.WriteString("| # | Status | Before | After | Delta | Recs | Files | Rolled back |\n")
		sb.WriteString("|---|--------|--------|-------|-------|------|-------|-------------|\n")
		for _, it := range r.Iterations {
			status := string(it.Status)
			if status == "" {
				status = "aborted"
			}
			rolled := ""
			if it.RolledBack {
				rolled = "yes"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %.2f | %.2f | %+.2f | %d | %d | %s |\n",
				it.Iteration, status, it.BeforeScore, it.AfterScore, it.Delta,
				it.Recommendations, it.FilesChanged, rolled))
		}
		sb.WriteString("\n")
	}

	if len(r.Deviations) > 0 {
		sb.WriteString("## Deviations\n\n")
		for _, d := range r.Deviations {
			sb.WriteString(fmt.Sprintf("- %s\n", d))
		}
		sb.WriteString("\n")
	}

	if r.Error != "" {
		sb.WriteString("## Error\n\n")
		sb.WriteString(fmt.Sprintf("```\n%s\n```\n", r.Error))
	}

	return sb.String()
}

func reached(ok bool) string {
	if ok {
		return "reached"
	}
	return "not reached"
}
