// Package ignore reads gitignore-style files so project scans skip build
// output, dependencies and anything else the project keeps out of git.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultIgnoreFiles are read from the project root.
var DefaultIgnoreFiles = []string{".gitignore"}

// DefaultFallbackPatterns apply when the project has no ignore file.
var DefaultFallbackPatterns = []string{
	"node_modules/",
	"dist/",
	"build/",
	".next/",
	".nuxt/",
	".svelte-kit/",
	"coverage/",
	"*.log",
}

// alwaysIgnored is never sent anywhere, whatever the ignore files say.
var alwaysIgnored = []string{".git/", "node_modules/", ".env", ".env.*"}

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// DefaultParser reads .gitignore with the default fallback patterns.
func DefaultParser() *Parser {
	return NewParser(DefaultIgnoreFiles, DefaultFallbackPatterns)
}

// ParseProject reads all ignore files from the project root and returns
// combined patterns. If no ignore files are found, returns fallback patterns.
func (p *Parser) ParseProject(projectRoot string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		path := filepath.Join(projectRoot, ignoreFile)
		filePatterns, err := p.parseFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}

	return deduplicate(patterns), nil
}

// Matcher builds a matcher for the project's ignore rules.
func (p *Parser) Matcher(projectRoot string) (*Matcher, error) {
	patterns, err := p.ParseProject(projectRoot)
	if err != nil {
		return nil, err
	}
	return NewMatcher(patterns), nil
}

// Matcher reports whether project-relative paths are ignored.
type Matcher struct {
	m gitignore.Matcher
}

// NewMatcher compiles gitignore patterns. Patterns are evaluated in order,
// so a later negation re-includes an earlier match.
func NewMatcher(patterns []string) *Matcher {
	all := make([]gitignore.Pattern, 0, len(patterns)+len(alwaysIgnored))
	for _, line := range patterns {
		all = append(all, gitignore.ParsePattern(line, nil))
	}
	for _, line := range alwaysIgnored {
		all = append(all, gitignore.ParsePattern(line, nil))
	}
	return &Matcher{m: gitignore.NewMatcher(all)}
}

// Ignored reports whether the slash- or OS-separated relative path is
// excluded.
func (m *Matcher) Ignored(relPath string, isDir bool) bool {
	rel := filepath.ToSlash(filepath.Clean(relPath))
	if rel == "." || rel == "" {
		return false
	}
	return m.m.Match(strings.Split(rel, "/"), isDir)
}

// parseFile reads a single gitignore-style file and returns patterns.
func (p *Parser) parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return patterns, nil
}

// parseLine returns the pattern on a line, or empty string for comments and
// blank lines.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))

	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	return result
}
