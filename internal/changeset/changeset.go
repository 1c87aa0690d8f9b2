// Package changeset defines the proposed and applied file modifications
// produced for one iteration, and the recommendations they implement.
package changeset

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind is the type of modification a FileChange performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
)

// Valid reports whether k is a known change kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindEdit, KindDelete:
		return true
	}
	return false
}

// FileChange is one modification to a file in the target project.
//
// OldContent is the exact pre-change content when the producer captured it.
// It is nil for created files and for edits where no snapshot exists.
type FileChange struct {
	Path       string  `json:"path"`
	Kind       Kind    `json:"kind"`
	OldContent *string `json:"old_content,omitempty"`
	NewContent string  `json:"new_content"`
	Diff       string  `json:"diff,omitempty"`
}

// HasSnapshot reports whether the change carries pre-change content.
func (c FileChange) HasSnapshot() bool {
	return c.OldContent != nil
}

// NewEdit builds an edit change with its old content snapshot and diff.
func NewEdit(path, oldContent, newContent string) FileChange {
	old := oldContent
	return FileChange{
		Path:       path,
		Kind:       KindEdit,
		OldContent: &old,
		NewContent: newContent,
		Diff:       Diff(oldContent, newContent),
	}
}

// NewCreate builds a change that creates a file.
func NewCreate(path, content string) FileChange {
	return FileChange{
		Path:       path,
		Kind:       KindCreate,
		NewContent: content,
		Diff:       Diff("", content),
	}
}

// NewDelete builds a change that removes a file, keeping its content.
func NewDelete(path, oldContent string) FileChange {
	old := oldContent
	return FileChange{
		Path:       path,
		Kind:       KindDelete,
		OldContent: &old,
		Diff:       Diff(oldContent, ""),
	}
}

// Diff renders a patch-style diff between two contents.
func Diff(oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(oldContent, diffs))
}

// ChangeSet is the ordered set of file changes for one iteration.
// A ChangeSet is treated as immutable once produced; helpers return copies.
type ChangeSet struct {
	Changes       []FileChange `json:"changes"`
	Summary       string       `json:"summary"`
	BuildCommands []string     `json:"build_commands,omitempty"`
	TestCommands  []string     `json:"test_commands,omitempty"`
}

// Empty reports whether the set contains no changes.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || len(cs.Changes) == 0
}

// Paths returns the distinct paths touched by the set, in change order.
func (cs *ChangeSet) Paths() []string {
	if cs == nil {
		return nil
	}
	seen := make(map[string]bool, len(cs.Changes))
	paths := make([]string, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		if seen[c.Path] {
			continue
		}
		seen[c.Path] = true
		paths = append(paths, c.Path)
	}
	return paths
}

// Commands returns build commands followed by test commands.
func (cs *ChangeSet) Commands() []string {
	if cs == nil {
		return nil
	}
	out := make([]string, 0, len(cs.BuildCommands)+len(cs.TestCommands))
	out = append(out, cs.BuildCommands...)
	out = append(out, cs.TestCommands...)
	return out
}

// WithChanges returns a copy of the set carrying the given changes.
func (cs *ChangeSet) WithChanges(changes []FileChange) *ChangeSet {
	cp := *cs
	cp.Changes = append([]FileChange(nil), changes...)
	cp.BuildCommands = append([]string(nil), cs.BuildCommands...)
	cp.TestCommands = append([]string(nil), cs.TestCommands...)
	return &cp
}

// Validate checks that every change has a relative path and a known kind.
func (cs *ChangeSet) Validate() error {
	if cs == nil {
		return fmt.Errorf("change set is nil")
	}
	for i, c := range cs.Changes {
		if c.Path == "" {
			return fmt.Errorf("change %d: path is required", i)
		}
		if filepath.IsAbs(c.Path) {
			return fmt.Errorf("change %d: path %q must be relative to the project root", i, c.Path)
		}
		if !c.Kind.Valid() {
			return fmt.Errorf("change %d: unknown kind %q", i, c.Kind)
		}
	}
	return nil
}

// Recommendation is a proposed improvement returned by analysis.
//
// Impact and Effort are on a 1-10 scale. TargetFiles lists project-relative
// paths the recommendation is expected to touch, when the analysis knows them.
type Recommendation struct {
	Title       string   `json:"title"`
	Dimension   string   `json:"dimension"`
	Description string   `json:"description"`
	Impact      int      `json:"impact"`
	Effort      int      `json:"effort"`
	TargetFiles []string `json:"target_files,omitempty"`
}

// Key returns the matching identity: lowercased title plus a normalized
// prefix of the description.
func (r Recommendation) Key() string {
	desc := Normalize(r.Description)
	if len(desc) > 60 {
		desc = desc[:60]
	}
	return Normalize(r.Title) + "|" + desc
}

// Targets reports whether the recommendation is aimed at the given component
// path, either explicitly or by mentioning the component by name.
func (r Recommendation) Targets(path string) bool {
	for _, f := range r.TargetFiles {
		if filepath.Clean(f) == filepath.Clean(path) {
			return true
		}
	}
	text := strings.ToLower(r.Title + " " + r.Description)
	if strings.Contains(text, strings.ToLower(path)) {
		return true
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return len(base) >= 3 && base != "index" && strings.Contains(text, strings.ToLower(base))
}

// Normalize lowercases s and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// SortByPriority orders recommendations by impact/effort ratio, best first.
// The input slice is not modified.
func SortByPriority(recs []Recommendation) []Recommendation {
	out := append([]Recommendation(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		return priority(out[i]) > priority(out[j])
	})
	return out
}

func priority(r Recommendation) float64 {
	effort := r.Effort
	if effort <= 0 {
		effort = 1
	}
	return float64(r.Impact) / float64(effort)
}
