package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/gitinfo"
	"github.com/fyrsmithlabs/vizloop/internal/memory"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/verify"
)

func TestOpen_RequiresRunID(t *testing.T) {
	_, err := Open(t.TempDir(), "", nil)
	assert.Error(t, err)
}

func TestOpen_Layout(t *testing.T) {
	out := t.TempDir()
	l, err := Open(out, "run-1", zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "run-1"), l.Dir())
	assert.Equal(t, filepath.Join(out, "run-1", "memory.json"), l.MemoryPath())
	assert.Equal(t, filepath.Join(out, "run-1", "iteration-002"), l.IterationDir(2))
	assert.DirExists(t, l.Dir())
}

func TestWriteIteration_AllArtifacts(t *testing.T) {
	l, err := Open(t.TempDir(), "run-1", zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := &IterationRecord{
		Iteration:   0,
		Status:      memory.StatusSuccess,
		BeforeScore: 6,
		AfterScore:  6.5,
		Delta:       0.5,
		Before:      &pipeline.Snapshot{Data: []byte("before"), MediaType: "image/png"},
		After:       &pipeline.Snapshot{Data: []byte("after"), MediaType: "image/png"},
		Spec:        &pipeline.ImprovementSpec{CurrentScore: 6},
		ChangeSet: &changeset.ChangeSet{Changes: []changeset.FileChange{
			changeset.NewEdit("src/App.tsx", "a", "b"),
		}},
		Verification: &verify.Result{BuildSucceeded: true},
		Evaluation:   &pipeline.Evaluation{CompositeScore: 6.5},
		Reflection:   &pipeline.Reflection{Reasoning: "keep"},
	}
	require.NoError(t, l.WriteIteration(rec))

	dir := l.IterationDir(0)
	for _, name := range []string{
		"before.png", "after.png", "spec.json", "changeset.json",
		"verification.json", "evaluation.json", "reflection.json", "record.json",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	data, err := os.ReadFile(filepath.Join(dir, "before.png"))
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))

	var got map[string]any
	data, err = os.ReadFile(filepath.Join(dir, RecordFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "success", got["status"])
	assert.NotContains(t, got, "Before")
}

func TestWriteIteration_PartialRecord(t *testing.T) {
	l, err := Open(t.TempDir(), "run-1", nil)
	require.NoError(t, err)

	require.NoError(t, l.WriteIteration(&IterationRecord{Iteration: 3, Error: "analysis failed"}))

	entries, err := os.ReadDir(l.IterationDir(3))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, RecordFile, entries[0].Name())
}

func TestWriteReport_RoundTrip(t *testing.T) {
	l, err := Open(t.TempDir(), "run-1", nil)
	require.NoError(t, err)

	r := &Report{
		RunID:           "run-1",
		Status:          StatusCompleted,
		Revision:        &gitinfo.Revision{Commit: "0123456789abcdef", Branch: "main"},
		StartingScore:   6,
		FinalScore:      7.25,
		Improvement:     1.25,
		TargetScore:     8.5,
		TotalIterations: 2,
		MaxIterations:   5,
		BestIteration:   1,
		BestScore:       7.25,
		Duration:        90 * time.Second,
		Deviations:      []string{"collaborator retry enabled (max_attempts=3)"},
		Iterations: []IterationSummary{
			{Iteration: 0, Status: memory.StatusBrokeBuild, BeforeScore: 6, AfterScore: 6, RolledBack: true},
			{Iteration: 1, Status: memory.StatusSuccess, BeforeScore: 6, AfterScore: 7.25, Delta: 1.25},
		},
	}
	require.NoError(t, l.WriteReport(r))

	got, err := ReadReport(l.Dir())
	require.NoError(t, err)
	assert.Equal(t, r.FinalScore, got.FinalScore)
	assert.Equal(t, r.Iterations, got.Iterations)

	summary, err := os.ReadFile(filepath.Join(l.Dir(), SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "# Run run-1")
	assert.Contains(t, string(summary), "main@0123456789ab")
	assert.Contains(t, string(summary), "| Best iteration | 1 (7.25) |")
	assert.Contains(t, string(summary), "| 0 | broke_build |")
	assert.Contains(t, string(summary), "## Deviations")
}

func TestBestIteration(t *testing.T) {
	tests := []struct {
		name      string
		its       []IterationSummary
		wantIdx   int
		wantScore float64
	}{
		{"none", nil, -1, 0},
		{"only build failures", []IterationSummary{{Iteration: 0, Status: memory.StatusBrokeBuild, AfterScore: 9}}, -1, 0},
		{"highest wins", []IterationSummary{
			{Iteration: 0, Status: memory.StatusSuccess, AfterScore: 6.5},
			{Iteration: 1, Status: memory.StatusFailed, AfterScore: 6.1},
			{Iteration: 2, Status: memory.StatusSuccess, AfterScore: 7.0},
		}, 2, 7.0},
		{"earliest on tie", []IterationSummary{
			{Iteration: 0, Status: memory.StatusSuccess, AfterScore: 7},
			{Iteration: 1, Status: memory.StatusNoEffect, AfterScore: 7},
		}, 0, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, score := BestIteration(tt.its)
			assert.Equal(t, tt.wantIdx, idx)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestFormatSummary_Error(t *testing.T) {
	s := FormatSummary(&Report{RunID: "r", Status: StatusFailed, BestIteration: -1, Error: "approval denied"})
	assert.Contains(t, s, "| Best iteration | none |")
	assert.Contains(t, s, "approval denied")
}
