// Package projectctx inspects the target project so analysis and
// implementation prompts know which framework, styling approach and
// component directories they are working with.
package projectctx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Context is what was detected about a project.
type Context struct {
	Root           string            `json:"root"`
	Name           string            `json:"name,omitempty"`
	Framework      string            `json:"framework,omitempty"`
	Styling        []string          `json:"styling,omitempty"`
	TypeScript     bool              `json:"typescript"`
	PackageManager string            `json:"package_manager,omitempty"`
	ComponentDirs  []string          `json:"component_dirs,omitempty"`
	Scripts        map[string]string `json:"scripts,omitempty"`
}

type packageJSON struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Frameworks in detection order. Meta-frameworks come before the libraries
// they build on.
var frameworks = []struct {
	name string
	deps []string
}{
	{"next", []string{"next"}},
	{"nuxt", []string{"nuxt"}},
	{"sveltekit", []string{"@sveltejs/kit"}},
	{"svelte", []string{"svelte"}},
	{"angular", []string{"@angular/core"}},
	{"vue", []string{"vue"}},
	{"react", []string{"react"}},
}

var stylingDeps = []struct {
	name  string
	deps  []string
	files []string
}{
	{"tailwind", []string{"tailwindcss"}, []string{"tailwind.config.js", "tailwind.config.ts", "tailwind.config.cjs", "tailwind.config.mjs"}},
	{"styled-components", []string{"styled-components"}, nil},
	{"emotion", []string{"@emotion/react", "@emotion/styled"}, nil},
	{"sass", []string{"sass", "node-sass"}, nil},
}

var componentDirCandidates = []string{
	"src/components",
	"components",
	"src/app",
	"app",
	"src/pages",
	"pages",
	"src/views",
	"src/lib/components",
	"src/routes",
}

var lockFiles = []struct {
	file    string
	manager string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"bun.lock", "bun"},
	{"package-lock.json", "npm"},
}

// Detect reads package.json and the directory layout under root. A project
// without package.json is reported as plain HTML when it has an index.html.
func Detect(root string) (*Context, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root is not a directory: %s", root)
	}

	c := &Context{Root: root}
	pkg, err := readPackageJSON(root)
	if err != nil {
		return nil, err
	}

	if pkg == nil {
		if exists(root, "index.html") {
			c.Framework = "html"
		}
	} else {
		c.Name = pkg.Name
		c.Scripts = pkg.Scripts
		c.Framework = detectFramework(pkg)
		c.PackageManager = "npm"
		for _, lf := range lockFiles {
			if exists(root, lf.file) {
				c.PackageManager = lf.manager
				break
			}
		}
		_, c.TypeScript = dependency(pkg, "typescript")
	}
	if exists(root, "tsconfig.json") {
		c.TypeScript = true
	}

	for _, dir := range componentDirCandidates {
		if isDir(filepath.Join(root, dir)) {
			c.ComponentDirs = append(c.ComponentDirs, dir)
		}
	}
	c.Styling = detectStyling(root, pkg, c.ComponentDirs)
	return c, nil
}

// BuildCommands returns the project's own build command when it declares one.
func (c *Context) BuildCommands() []string {
	if c == nil || c.Scripts == nil {
		return nil
	}
	if _, ok := c.Scripts["build"]; !ok {
		return nil
	}
	pm := c.PackageManager
	if pm == "" {
		pm = "npm"
	}
	return []string{pm + " run build"}
}

// Digest renders the context for prompts.
func (c *Context) Digest() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("PROJECT CONTEXT\n")
	if c.Name != "" {
		sb.WriteString(fmt.Sprintf("Name: %s\n", c.Name))
	}
	framework := c.Framework
	if framework == "" {
		framework = "unknown"
	}
	sb.WriteString(fmt.Sprintf("Framework: %s\n", framework))
	if c.TypeScript {
		sb.WriteString("Language: TypeScript\n")
	} else {
		sb.WriteString("Language: JavaScript\n")
	}
	if len(c.Styling) > 0 {
		sb.WriteString(fmt.Sprintf("Styling: %s\n", strings.Join(c.Styling, ", ")))
	}
	if c.PackageManager != "" {
		sb.WriteString(fmt.Sprintf("Package manager: %s\n", c.PackageManager))
	}
	if len(c.ComponentDirs) > 0 {
		sb.WriteString(fmt.Sprintf("Component directories: %s\n", strings.Join(c.ComponentDirs, ", ")))
	}
	if len(c.Scripts) > 0 {
		names := make([]string, 0, len(c.Scripts))
		for name := range c.Scripts {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString(fmt.Sprintf("Scripts: %s\n", strings.Join(names, ", ")))
	}
	return sb.String()
}

func readPackageJSON(root string) (*packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading package.json: %w", err)
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("decoding package.json: %w", err)
	}
	return &pkg, nil
}

func detectFramework(pkg *packageJSON) string {
	for _, fw := range frameworks {
		if hasAnyDependency(pkg, fw.deps) {
			return fw.name
		}
	}
	return ""
}

func detectStyling(root string, pkg *packageJSON, componentDirs []string) []string {
	var out []string
	for _, st := range stylingDeps {
		if hasAnyDependency(pkg, st.deps) || hasAnyFile(root, st.files) {
			out = append(out, st.name)
		}
	}
	if hasCSSModules(root, componentDirs) {
		out = append(out, "css-modules")
	}
	return out
}

func hasAnyDependency(pkg *packageJSON, names []string) bool {
	for _, name := range names {
		if _, ok := dependency(pkg, name); ok {
			return true
		}
	}
	return false
}

func hasAnyFile(root string, names []string) bool {
	for _, name := range names {
		if exists(root, name) {
			return true
		}
	}
	return false
}

func hasCSSModules(root string, dirs []string) bool {
	found := false
	for _, dir := range dirs {
		_ = filepath.WalkDir(filepath.Join(root, dir), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() && d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			if !d.IsDir() && (strings.HasSuffix(d.Name(), ".module.css") || strings.HasSuffix(d.Name(), ".module.scss")) {
				found = true
				return filepath.SkipAll
			}
			return nil
		})
		if found {
			return true
		}
	}
	return false
}

func dependency(pkg *packageJSON, name string) (string, bool) {
	if pkg == nil {
		return "", false
	}
	if v, ok := pkg.Dependencies[name]; ok {
		return v, true
	}
	v, ok := pkg.DevDependencies[name]
	return v, ok
}

func exists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, name))
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
