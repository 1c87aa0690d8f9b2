package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// AllowlistFile is the project-level allowlist, shared with gitleaks.
const AllowlistFile = ".gitleaks.toml"

// ErrInvalidAllowlist indicates an allowlist file that does not parse or
// carries a pattern that does not compile.
var ErrInvalidAllowlist = errors.New("invalid allowlist")

// LoadAllowlist reads the [allowlist] regexes of the gitleaks file in
// projectRoot. A missing file yields no patterns.
func LoadAllowlist(projectRoot string) ([]string, error) {
	path := filepath.Join(projectRoot, AllowlistFile)

	var doc struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}

	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, p, path, err)
		}
	}
	return doc.Allowlist.Regexes, nil
}

// WithProjectAllowlist returns cfg with the project's allowlist appended.
func WithProjectAllowlist(cfg Config, projectRoot string) (Config, error) {
	if _, err := os.Stat(projectRoot); err != nil {
		return cfg, fmt.Errorf("project root: %w", err)
	}
	extra, err := LoadAllowlist(projectRoot)
	if err != nil {
		return cfg, err
	}
	cfg.AllowList = append(append([]string(nil), cfg.AllowList...), extra...)
	return cfg, nil
}
