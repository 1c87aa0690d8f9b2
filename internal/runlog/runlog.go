// Package runlog writes the on-disk record of a run: one directory per
// iteration holding its snapshots and phase outputs, plus the final report.
//
// Layout:
//
//	<output_dir>/<run_id>/
//	  memory.json
//	  report.json
//	  summary.md
//	  iteration-000/
//	    before.png after.png
//	    spec.json changeset.json verification.json
//	    evaluation.json reflection.json record.json
package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/memory"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/verify"
)

// File names inside a run directory.
const (
	ReportFile  = "report.json"
	SummaryFile = "summary.md"
	RecordFile  = "record.json"
)

// IterationRecord is the bundle of everything one iteration produced.
// It is written once when the iteration finishes.
type IterationRecord struct {
	Iteration       int                        `json:"iteration"`
	StartedAt       time.Time                  `json:"started_at"`
	FinishedAt      time.Time                  `json:"finished_at"`
	Status          memory.AttemptStatus       `json:"status,omitempty"`
	BeforeScore     float64                    `json:"before_score"`
	AfterScore      float64                    `json:"after_score"`
	Delta           float64                    `json:"delta"`
	Recommendations []changeset.Recommendation `json:"recommendations,omitempty"`
	Filtered        int                        `json:"filtered"`
	Assessment      *approval.Assessment       `json:"assessment,omitempty"`
	Decision        *approval.Decision         `json:"decision,omitempty"`
	RolledBack      bool                       `json:"rolled_back"`
	RollbackReason  string                     `json:"rollback_reason,omitempty"`
	Error           string                     `json:"error,omitempty"`

	Before       *pipeline.Snapshot        `json:"-"`
	After        *pipeline.Snapshot        `json:"-"`
	Spec         *pipeline.ImprovementSpec `json:"-"`
	ChangeSet    *changeset.ChangeSet      `json:"-"`
	Verification *verify.Result            `json:"-"`
	Evaluation   *pipeline.Evaluation      `json:"-"`
	Reflection   *pipeline.Reflection      `json:"-"`
}

// Summary condenses the record for the run report.
func (r *IterationRecord) Summary() IterationSummary {
	s := IterationSummary{
		Iteration:       r.Iteration,
		Status:          r.Status,
		BeforeScore:     r.BeforeScore,
		AfterScore:      r.AfterScore,
		Delta:           r.Delta,
		Recommendations: len(r.Recommendations),
		RolledBack:      r.RolledBack,
		Error:           r.Error,
	}
	if r.ChangeSet != nil {
		s.FilesChanged = len(r.ChangeSet.Paths())
	}
	return s
}

// Log writes into one run directory.
type Log struct {
	dir    string
	logger *zap.Logger
}

// Open creates (or reuses) the directory for runID under outputDir.
func Open(outputDir, runID string, logger *zap.Logger) (*Log, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(outputDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &Log{dir: dir, logger: logger}, nil
}

// Dir returns the run directory.
func (l *Log) Dir() string { return l.dir }

// MemoryPath returns the location of the run's memory file.
func (l *Log) MemoryPath() string { return filepath.Join(l.dir, memory.FileName) }

// IterationDir returns the directory for iteration n.
func (l *Log) IterationDir(n int) string {
	return filepath.Join(l.dir, fmt.Sprintf("iteration-%03d", n))
}

// WriteIteration persists every artifact the record carries. A failure on
// one artifact does not stop the others; record.json is always attempted.
func (l *Log) WriteIteration(rec *IterationRecord) error {
	if rec == nil {
		return fmt.Errorf("iteration record is nil")
	}
	dir := l.IterationDir(rec.Iteration)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating iteration directory: %w", err)
	}

	var errs []error
	if rec.Before != nil && len(rec.Before.Data) > 0 {
		errs = append(errs, writeFile(filepath.Join(dir, "before"+imageExt(rec.Before.MediaType)), rec.Before.Data))
	}
	if rec.After != nil && len(rec.After.Data) > 0 {
		errs = append(errs, writeFile(filepath.Join(dir, "after"+imageExt(rec.After.MediaType)), rec.After.Data))
	}
	artifacts := []struct {
		name  string
		value any
		set   bool
	}{
		{"spec.json", rec.Spec, rec.Spec != nil},
		{"changeset.json", rec.ChangeSet, rec.ChangeSet != nil},
		{"verification.json", rec.Verification, rec.Verification != nil},
		{"evaluation.json", rec.Evaluation, rec.Evaluation != nil},
		{"reflection.json", rec.Reflection, rec.Reflection != nil},
	}
	for _, a := range artifacts {
		if !a.set {
			continue
		}
		errs = append(errs, writeJSON(filepath.Join(dir, a.name), a.value))
	}
	errs = append(errs, writeJSON(filepath.Join(dir, RecordFile), rec))

	if err := errors.Join(errs...); err != nil {
		l.logger.Warn("iteration record incomplete",
			zap.Int("iteration", rec.Iteration),
			zap.Error(err))
		return err
	}
	return nil
}

// WriteReport writes report.json and the human-readable summary.md.
func (l *Log) WriteReport(r *Report) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	return errors.Join(
		writeJSON(filepath.Join(l.dir, ReportFile), r),
		writeFile(filepath.Join(l.dir, SummaryFile), []byte(FormatSummary(r))),
	)
}

// ReadReport loads report.json from a run directory.
func ReadReport(dir string) (*Report, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &r, nil
}

func imageExt(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
