package projectctx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/vizloop/internal/ignore"
)

// SourceFile is a project file offered to the implementation step.
type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SourceLimits bounds how much of the project is collected.
type SourceLimits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

// DefaultSourceLimits keeps prompts within a reasonable context size.
var DefaultSourceLimits = SourceLimits{
	MaxFiles:      40,
	MaxFileBytes:  64 * 1024,
	MaxTotalBytes: 400 * 1024,
}

var errLimitReached = errors.New("source limit reached")

var sourceExtensions = map[string]bool{
	".tsx": true, ".ts": true, ".jsx": true, ".js": true,
	".vue": true, ".svelte": true, ".astro": true,
	".css": true, ".scss": true, ".html": true,
}

// CollectSources reads UI source files under dirs (or the whole root when
// dirs is empty), skipping anything the matcher ignores. Paths in the
// result are relative to root and sorted.
func CollectSources(root string, dirs []string, m *ignore.Matcher, lim SourceLimits) ([]SourceFile, error) {
	if lim.MaxFiles <= 0 {
		lim = DefaultSourceLimits
	}
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	var (
		files []SourceFile
		total int64
		seen  = make(map[string]bool)
	)
	for _, dir := range dirs {
		err := filepath.WalkDir(filepath.Join(root, dir), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			if m != nil && m.Ignored(rel, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !sourceExtensions[strings.ToLower(filepath.Ext(path))] || seen[rel] {
				return nil
			}

			info, err := d.Info()
			if err != nil || info.Size() > lim.MaxFileBytes {
				return nil
			}
			if total+info.Size() > lim.MaxTotalBytes {
				return errLimitReached
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			seen[rel] = true
			files = append(files, SourceFile{Path: filepath.ToSlash(rel), Content: string(data)})
			total += info.Size()
			if len(files) >= lim.MaxFiles {
				return errLimitReached
			}
			return nil
		})
		if errors.Is(err, errLimitReached) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
