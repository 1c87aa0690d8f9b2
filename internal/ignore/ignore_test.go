package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{"empty line", "", ""},
		{"whitespace only", "   ", ""},
		{"comment", "# this is a comment", ""},
		{"negation kept", "!important.log", "!important.log"},
		{"simple file glob", "*.log", "*.log"},
		{"directory with slash", "node_modules/", "node_modules/"},
		{"trailing carriage return", "dist/\r", "dist/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLine(tt.line)
			if result != tt.expected {
				t.Errorf("parseLine(%q) = %q, want %q", tt.line, result, tt.expected)
			}
		})
	}
}

func TestParseProject(t *testing.T) {
	tmpDir := t.TempDir()

	gitignore := `# Build outputs
dist/
build/

# Dependencies
node_modules/
node_modules/
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		t.Fatal(err)
	}

	patterns, err := DefaultParser().ParseProject(tmpDir)
	if err != nil {
		t.Fatalf("ParseProject failed: %v", err)
	}

	want := []string{"dist/", "build/", "node_modules/"}
	if len(patterns) != len(want) {
		t.Fatalf("got %v, want %v", patterns, want)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Errorf("pattern[%d] = %q, want %q", i, patterns[i], want[i])
		}
	}
}

func TestParseProject_NoIgnoreFiles(t *testing.T) {
	tmpDir := t.TempDir()

	fallback := []string{".cache/", "tmp/"}
	parser := NewParser([]string{".gitignore"}, fallback)

	patterns, err := parser.ParseProject(tmpDir)
	if err != nil {
		t.Fatalf("ParseProject failed: %v", err)
	}

	if len(patterns) != len(fallback) {
		t.Errorf("expected %d fallback patterns, got %d", len(fallback), len(patterns))
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{"dist/", "*.log", "!keep.log"})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"dist", true, true},
		{"src/App.tsx", false, false},
		{"debug.log", false, true},
		{"keep.log", false, false},
		{"node_modules", true, true},
		{".git", true, true},
		{".env", false, true},
		{"src/components/Nav.tsx", false, false},
	}
	for _, tt := range tests {
		if got := m.Ignored(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Ignored(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestDeduplicate(t *testing.T) {
	input := []string{"a", "b", "a", "c", "b", "d"}
	expected := []string{"a", "b", "c", "d"}

	result := deduplicate(input)

	if len(result) != len(expected) {
		t.Fatalf("got %d items, want %d", len(result), len(expected))
	}

	for i, v := range result {
		if v != expected[i] {
			t.Errorf("result[%d] = %q, want %q", i, v, expected[i])
		}
	}
}
