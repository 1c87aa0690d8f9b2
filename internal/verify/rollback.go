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

// RollbackPolicy controls how far a rollback goes.
type RollbackPolicy struct {
	// RemoveCreated deletes files the change set created. Off by default:
	// created files are left in place.
	RemoveCreated bool `json:"remove_created" koanf:"remove_created_on_rollback"`
}

// RollbackResult lists what a rollback did per path.
type RollbackResult struct {
	Restored []string `json:"restored,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

// Rollbacker restores project files from change set snapshots.
type Rollbacker struct {
	root   string
	policy RollbackPolicy
	logger *zap.Logger
}

// NewRollbacker creates a rollbacker rooted at projectRoot.
func NewRollbacker(projectRoot string, policy RollbackPolicy, logger *zap.Logger) *Rollbacker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rollbacker{root: projectRoot, policy: policy, logger: logger}
}

// Rollback undoes cs in reverse order. Every edit or delete that carries an
// OldContent snapshot is restored byte for byte. Created files are removed
// only when the policy says so. A failure on one file is logged and the
// remaining files are still attempted; all failures are returned joined.
func (r *Rollbacker) Rollback(ctx context.Context, cs *changeset.ChangeSet) (*RollbackResult, error) {
	res := &RollbackResult{}
	if cs == nil {
		return res, nil
	}

	var errs []error
	for i := len(cs.Changes) - 1; i >= 0; i-- {
		c := cs.Changes[i]
		if err := r.rollbackOne(c, res); err != nil {
			res.Failed = append(res.Failed, c.Path)
			errs = append(errs, fmt.Errorf("rollback %s: %w", c.Path, err))
			r.logger.Error("rollback failed for file",
				zap.String("path", c.Path),
				zap.String("kind", string(c.Kind)),
				zap.Error(err))
		}
	}

	r.logger.Info("rollback finished",
		zap.Int("restored", len(res.Restored)),
		zap.Int("removed", len(res.Removed)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("failed", len(res.Failed)))

	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return res, errors.Join(errs...)
}

func (r *Rollbacker) rollbackOne(c changeset.FileChange, res *RollbackResult) error {
	full, err := sanitize.ResolveWithin(r.root, c.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathEscapesRoot, err)
	}

	switch {
	case c.HasSnapshot():
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := writePreservingMode(full, []byte(*c.OldContent)); err != nil {
			return err
		}
		res.Restored = append(res.Restored, c.Path)
	case c.Kind == changeset.KindCreate && r.policy.RemoveCreated:
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		res.Removed = append(res.Removed, c.Path)
	default:
		res.Skipped = append(res.Skipped, c.Path)
	}
	return nil
}
