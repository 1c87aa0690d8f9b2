package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileApprover hands requests to an operator through a directory. Each
// request is written as <id>.request.json; the operator answers by creating
// <id>.decision.json containing a JSON Decision.
type FileApprover struct {
	dir    string
	logger *zap.Logger
}

// NewFileApprover creates the approval directory if needed.
func NewFileApprover(dir string, logger *zap.Logger) (*FileApprover, error) {
	if dir == "" {
		return nil, fmt.Errorf("approval directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating approval directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileApprover{dir: dir, logger: logger}, nil
}

// RequestPath returns where the request with id is written.
func (a *FileApprover) RequestPath(id string) string {
	return filepath.Join(a.dir, id+".request.json")
}

// DecisionPath returns where the decision for id is expected.
func (a *FileApprover) DecisionPath(id string) string {
	return filepath.Join(a.dir, id+".decision.json")
}

// Approve implements Approver.
func (a *FileApprover) Approve(ctx context.Context, req *Request) (Decision, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Decision{}, fmt.Errorf("creating approval watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(a.dir); err != nil {
		return Decision{}, fmt.Errorf("watching approval directory: %w", err)
	}

	if err := writeJSON(a.RequestPath(req.ID), req); err != nil {
		return Decision{}, err
	}
	defer os.Remove(a.RequestPath(req.ID))

	decisionPath := a.DecisionPath(req.ID)
	a.logger.Info("approval request written",
		zap.String("request", a.RequestPath(req.ID)),
		zap.String("awaiting", decisionPath))

	// The decision may already exist if the operator was quick.
	if d, ok := readDecision(decisionPath); ok {
		return d, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return Decision{}, fmt.Errorf("approval watcher closed")
			}
			if filepath.Clean(event.Name) != decisionPath {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			// A partially written file fails to decode; the next write event retries.
			if d, ok := readDecision(decisionPath); ok {
				return d, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return Decision{}, fmt.Errorf("approval watcher closed")
			}
			a.logger.Warn("approval watcher error", zap.Error(err))
		}
	}
}

func readDecision(path string) (Decision, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, false
	}
	if d.Source == "" {
		d.Source = SourceOperator
	}
	return d, true
}

// WriteDecision records a decision for id in dir. It is the operator side of
// FileApprover.
func WriteDecision(dir, id string, d Decision) error {
	path := filepath.Join(dir, id+".decision.json")
	if _, err := os.Stat(filepath.Join(dir, id+".request.json")); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return writeJSON(path, d)
}

// writeJSON writes v to path through a temp file and rename so readers never
// see a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
