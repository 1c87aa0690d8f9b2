package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/sanitize"
)

// ErrPathEscapesRoot indicates a change targeting a file outside the project.
var ErrPathEscapesRoot = errors.New("change path escapes project root")

const defaultFileMode fs.FileMode = 0o644

// Applier writes change sets into a project tree.
type Applier struct {
	root   string
	logger *zap.Logger
}

// NewApplier creates an applier rooted at projectRoot.
func NewApplier(projectRoot string, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{root: projectRoot, logger: logger}
}

// Apply writes every change to disk in order and returns a copy of cs whose
// edit and delete changes all carry the content they replaced. If a write
// fails midway the already-written changes are rolled back before the error
// is returned.
func (a *Applier) Apply(ctx context.Context, cs *changeset.ChangeSet) (*changeset.ChangeSet, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}

	applied := make([]changeset.FileChange, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		if err := ctx.Err(); err != nil {
			a.undo(ctx, cs.WithChanges(applied))
			return nil, err
		}

		full, err := sanitize.ResolveWithin(a.root, c.Path)
		if err != nil {
			a.undo(ctx, cs.WithChanges(applied))
			return nil, fmt.Errorf("%w: %v", ErrPathEscapesRoot, err)
		}

		c, err = snapshot(full, c)
		if err != nil {
			a.undo(ctx, cs.WithChanges(applied))
			return nil, err
		}

		if err := writeChange(full, c); err != nil {
			a.undo(ctx, cs.WithChanges(applied))
			return nil, fmt.Errorf("applying %s to %s: %w", c.Kind, c.Path, err)
		}
		applied = append(applied, c)
		a.logger.Debug("applied change", zap.String("path", c.Path), zap.String("kind", string(c.Kind)))
	}

	return cs.WithChanges(applied), nil
}

func (a *Applier) undo(ctx context.Context, cs *changeset.ChangeSet) {
	if cs.Empty() {
		return
	}
	rb := NewRollbacker(a.root, RollbackPolicy{RemoveCreated: true}, a.logger)
	if _, err := rb.Rollback(ctx, cs); err != nil {
		a.logger.Error("failed to undo partially applied change set", zap.Error(err))
	}
}

// snapshot fills OldContent from disk when the producer did not. A create
// over an existing file is turned into an edit so the original is kept.
func snapshot(full string, c changeset.FileChange) (changeset.FileChange, error) {
	if c.HasSnapshot() {
		return c, nil
	}
	data, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if c.Kind != changeset.KindCreate {
			return c, fmt.Errorf("%s %s: file does not exist", c.Kind, c.Path)
		}
		return c, nil
	case err != nil:
		return c, fmt.Errorf("reading %s: %w", c.Path, err)
	}

	old := string(data)
	c.OldContent = &old
	if c.Kind == changeset.KindCreate {
		c.Kind = changeset.KindEdit
	}
	if c.Diff == "" && c.Kind == changeset.KindEdit {
		c.Diff = changeset.Diff(old, c.NewContent)
	}
	return c, nil
}

func writeChange(full string, c changeset.FileChange) error {
	switch c.Kind {
	case changeset.KindDelete:
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	default:
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		return writePreservingMode(full, []byte(c.NewContent))
	}
}

// writePreservingMode overwrites full, keeping the mode of an existing file.
func writePreservingMode(full string, data []byte) error {
	mode := defaultFileMode
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(full, data, mode)
}
