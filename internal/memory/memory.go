package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
)

const (
	// PlateauDelta is the largest after-score movement still counted as flat.
	PlateauDelta = 0.1
	// PlateauIterations is how many flat steps make a plateau.
	PlateauIterations = 2
	// TrendDelta is the mean delta beyond which the trend has a direction.
	TrendDelta = 0.2
	// TrendWindow is how many recent entries the trend averages.
	TrendWindow = 3
	// DefaultAvoidThreshold is the modification count that can mark a
	// component as avoided.
	DefaultAvoidThreshold = 5

	recentAttemptsShown = 5
	topComponentsShown  = 5
)

// DefaultDimensions are the quality dimensions analysis scores against. They
// seed the alternative focus areas suggested when components are avoided.
var DefaultDimensions = []string{
	"visual_hierarchy",
	"typography",
	"color_contrast",
	"spacing_layout",
	"component_design",
	"animation_interaction",
	"accessibility",
	"overall_aesthetic",
}

// New returns an empty memory state.
func New() *State {
	return &State{
		Attempted:          []Attempt{},
		SuccessfulChanges:  []changeset.FileChange{},
		FailedChanges:      []FailedChange{},
		ScoreHistory:       []ScoreEntry{},
		ModificationCount:  map[string]int{},
		ModifiedComponents: map[string]bool{},
	}
}

// normalize fills nil collections, for states decoded from older files.
func (s *State) normalize() {
	if s.Attempted == nil {
		s.Attempted = []Attempt{}
	}
	if s.SuccessfulChanges == nil {
		s.SuccessfulChanges = []changeset.FileChange{}
	}
	if s.FailedChanges == nil {
		s.FailedChanges = []FailedChange{}
	}
	if s.ScoreHistory == nil {
		s.ScoreHistory = []ScoreEntry{}
	}
	if s.ModificationCount == nil {
		s.ModificationCount = map[string]int{}
	}
	if s.ModifiedComponents == nil {
		s.ModifiedComponents = map[string]bool{}
	}
}

// RecordAttempt appends an attempt. Failed and build-breaking attempts are
// also added to the failed-changes list. Every touched path has its
// modification count incremented.
func (s *State) RecordAttempt(rec changeset.Recommendation, iteration int, status AttemptStatus, filesModified []string, reason string) Attempt {
	s.normalize()

	files := append([]string(nil), filesModified...)
	a := Attempt{
		Recommendation: rec,
		Iteration:      iteration,
		Status:         status,
		FilesModified:  files,
		Reason:         reason,
		RecordedAt:     time.Now().UTC(),
	}
	s.Attempted = append(s.Attempted, a)

	if status.IsFailure() {
		s.FailedChanges = append(s.FailedChanges, FailedChange{
			Recommendation: rec,
			Reason:         reason,
			Iteration:      iteration,
		})
	}

	for _, path := range files {
		s.ModificationCount[path]++
		s.ModifiedComponents[path] = true
	}
	s.UpdatedAt = a.RecordedAt
	return a
}

// RecordSuccessfulChanges appends changes that shipped in a successful iteration.
func (s *State) RecordSuccessfulChanges(changes []changeset.FileChange) {
	s.normalize()
	s.SuccessfulChanges = append(s.SuccessfulChanges, changes...)
}

// RecordRollback marks the attempts of iteration as failed with reason and
// withdraws the credited changes from the successful-changes list. Attempts
// that already count as failures are left alone.
func (s *State) RecordRollback(iteration int, credited []changeset.FileChange, reason string) {
	s.normalize()
	for i := range s.Attempted {
		a := &s.Attempted[i]
		if a.Iteration != iteration || a.Status.IsFailure() {
			continue
		}
		a.Status = StatusFailed
		a.Reason = reason
		s.FailedChanges = append(s.FailedChanges, FailedChange{
			Recommendation: a.Recommendation,
			Reason:         reason,
			Iteration:      iteration,
		})
	}

	for _, c := range credited {
		for j := len(s.SuccessfulChanges) - 1; j >= 0; j-- {
			sc := s.SuccessfulChanges[j]
			if sc.Path == c.Path && sc.NewContent == c.NewContent {
				s.SuccessfulChanges = append(s.SuccessfulChanges[:j], s.SuccessfulChanges[j+1:]...)
				break
			}
		}
	}
	s.UpdatedAt = time.Now().UTC()
}

// RecordScore appends a score entry and updates plateau detection by
// comparing the after-scores of the two most recent entries.
func (s *State) RecordScore(entry ScoreEntry) {
	s.normalize()
	entry.Delta = entry.AfterScore - entry.BeforeScore
	s.ScoreHistory = append(s.ScoreHistory, entry)

	n := len(s.ScoreHistory)
	if n < 2 {
		return
	}
	prev := s.ScoreHistory[n-2].AfterScore
	if math.Abs(entry.AfterScore-prev) < PlateauDelta {
		s.PlateauCount++
	} else {
		s.PlateauCount = 0
	}
	s.UpdatedAt = time.Now().UTC()
}

// IsPlateau reports whether scores have been flat long enough to count as
// a plateau.
func (s *State) IsPlateau() bool {
	return s.PlateauCount >= PlateauIterations
}

// Trend classifies the mean delta of the most recent entries.
func (s *State) Trend() Trend {
	n := len(s.ScoreHistory)
	if n < 2 {
		return TrendUnknown
	}
	window := s.ScoreHistory[max(0, n-TrendWindow):]
	var sum float64
	for _, e := range window {
		sum += e.Delta
	}
	mean := sum / float64(len(window))
	switch {
	case mean > TrendDelta:
		return TrendImproving
	case mean < -TrendDelta:
		return TrendDeclining
	default:
		return TrendPlateau
	}
}

// WasAttempted returns the most recent attempt whose title equals the
// candidate's title (ignoring case) or whose description contains it.
func (s *State) WasAttempted(rec changeset.Recommendation) (Attempt, bool) {
	title := changeset.Normalize(rec.Title)
	if title == "" {
		return Attempt{}, false
	}
	for i := len(s.Attempted) - 1; i >= 0; i-- {
		a := s.Attempted[i]
		if changeset.Normalize(a.Recommendation.Title) == title {
			return a, true
		}
		if strings.Contains(changeset.Normalize(a.Recommendation.Description), title) {
			return a, true
		}
	}
	return Attempt{}, false
}

// FailureCount returns how many failed or build-breaking attempts touched path.
func (s *State) FailureCount(path string) int {
	count := 0
	for _, a := range s.Attempted {
		if !a.Status.IsFailure() {
			continue
		}
		for _, f := range a.FilesModified {
			if f == path {
				count++
				break
			}
		}
	}
	return count
}

// ShouldAvoidComponent reports whether path has been modified at least
// threshold times with at least threshold-1 failures. A threshold of zero or
// less uses DefaultAvoidThreshold.
func (s *State) ShouldAvoidComponent(path string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultAvoidThreshold
	}
	if s.ModificationCount[path] < threshold {
		return false
	}
	return s.FailureCount(path) >= threshold-1
}

// AvoidedComponents returns every path currently meeting the avoid rule,
// sorted.
func (s *State) AvoidedComponents(threshold int) []string {
	var out []string
	for path := range s.ModificationCount {
		if s.ShouldAvoidComponent(path, threshold) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// ComponentCount pairs a path with its modification count.
type ComponentCount struct {
	Path  string
	Count int
}

// TopModified returns the n most modified components.
func (s *State) TopModified(n int) []ComponentCount {
	out := make([]ComponentCount, 0, len(s.ModificationCount))
	for path, count := range s.ModificationCount {
		out = append(out, ComponentCount{Path: path, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ContextSummary renders the digest handed to analysis. It is the only
// channel through which earlier iterations inform later ones.
func (s *State) ContextSummary(avoidThreshold int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ITERATION MEMORY (%d iterations recorded, %d recommendations attempted)\n",
		len(s.ScoreHistory), len(s.Attempted))

	trend := s.Trend()
	if n := len(s.ScoreHistory); n > 0 {
		last := s.ScoreHistory[n-1]
		fmt.Fprintf(&b, "Score trend: %s (last %.2f -> %.2f, %+.2f)\n", trend, last.BeforeScore, last.AfterScore, last.Delta)
	} else {
		fmt.Fprintf(&b, "Score trend: %s\n", trend)
	}

	if len(s.Attempted) > 0 {
		b.WriteString("\nRecent attempts:\n")
		start := max(0, len(s.Attempted)-recentAttemptsShown)
		for _, a := range s.Attempted[start:] {
			fmt.Fprintf(&b, "  - [%s] %s (iteration %d)\n", a.Status, a.Recommendation.Title, a.Iteration)
		}
	}

	if len(s.FailedChanges) > 0 {
		b.WriteString("\nFailed attempts, do not repeat:\n")
		for _, f := range s.FailedChanges {
			reason := f.Reason
			if reason == "" {
				reason = "no reason recorded"
			}
			fmt.Fprintf(&b, "  - %s: %s (iteration %d)\n", f.Recommendation.Title, reason, f.Iteration)
		}
	}

	if top := s.TopModified(topComponentsShown); len(top) > 0 {
		b.WriteString("\nMost modified components:\n")
		for _, c := range top {
			fmt.Fprintf(&b, "  - %s (%d modifications, %d failed)\n", c.Path, c.Count, s.FailureCount(c.Path))
		}
	}

	if s.IsPlateau() {
		fmt.Fprintf(&b, "\nWARNING: scores have been flat for %d iterations. Prefer a different dimension or a bolder change.\n", s.PlateauCount)
	}

	if avoided := s.AvoidedComponents(avoidThreshold); len(avoided) > 0 {
		b.WriteString("\nAvoided components (repeated failures, do not target):\n")
		for _, path := range avoided {
			fmt.Fprintf(&b, "  - %s\n", path)
		}
		if alts := s.alternativeFocus(); len(alts) > 0 {
			fmt.Fprintf(&b, "Suggested alternative focus areas: %s\n", strings.Join(alts, ", "))
		}
	}

	return b.String()
}

// alternativeFocus lists dimensions with no successful attempt, untried first.
func (s *State) alternativeFocus() []string {
	tried := map[string]bool{}
	succeeded := map[string]bool{}
	for _, a := range s.Attempted {
		dim := strings.ToLower(a.Recommendation.Dimension)
		tried[dim] = true
		if a.Status == StatusSuccess {
			succeeded[dim] = true
		}
	}
	var untried, retry []string
	for _, d := range DefaultDimensions {
		switch {
		case !tried[d]:
			untried = append(untried, d)
		case !succeeded[d]:
			retry = append(retry, d)
		}
	}
	return append(untried, retry...)
}
