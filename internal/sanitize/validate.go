// Package sanitize validates untrusted paths and command lines before the
// loop touches the filesystem or launches a process.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validation errors for security checks.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrAbsolutePath indicates an absolute path was provided where relative was expected.
	ErrAbsolutePath = errors.New("absolute path not allowed")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrDirNotAllowed indicates a directory outside every allowed root.
	ErrDirNotAllowed = errors.New("directory not under an allowed root")
)

// ResolveWithin joins a project-relative path onto root and returns the
// absolute result. The path must be relative and must not leave root.
func ResolveWithin(root, rel string) (string, error) {
	if rel == "" {
		return "", ErrEmptyPath
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, rel)
	}
	if hasTraversal(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	full := filepath.Join(absRoot, rel)
	if !within(absRoot, full) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrPathTraversal, rel, absRoot)
	}
	return full, nil
}

// ValidateDir checks that dir resolves, after following symlinks, to a
// location under one of allowedRoots. It returns the resolved absolute path.
// An empty allowedRoots accepts any directory free of traversal.
func ValidateDir(dir string, allowedRoots []string) (string, error) {
	if dir == "" {
		return "", ErrEmptyPath
	}
	if hasTraversal(dir) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	// Paths that do not exist yet are validated as written.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}

	if len(allowedRoots) == 0 {
		return resolved, nil
	}
	for _, root := range allowedRoots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if r, err := filepath.EvalSymlinks(absRoot); err == nil {
			absRoot = r
		}
		if within(absRoot, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDirNotAllowed, dir)
}

func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(filepath.ToSlash(p), func(r rune) bool { return r == '/' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
