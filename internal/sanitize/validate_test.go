package sanitize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		rel     string
		wantErr error
	}{
		{name: "empty path", rel: "", wantErr: ErrEmptyPath},
		{name: "simple relative path", rel: "src/App.tsx"},
		{name: "dots inside a name", rel: "src/a..b.ts"},
		{name: "absolute path", rel: "/etc/passwd", wantErr: ErrAbsolutePath},
		{name: "traversal attack - simple", rel: "../etc/passwd", wantErr: ErrPathTraversal},
		{name: "traversal attack - middle", rel: "src/../../etc/passwd", wantErr: ErrPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(root, tt.rel)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, tt.rel), got)
		})
	}
}

func TestValidateDir(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "backend")
	require.NoError(t, os.MkdirAll(inside, 0o755))
	other := t.TempDir()

	got, err := ValidateDir(inside, []string{root})
	require.NoError(t, err)
	resolvedRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, filepath.Join(resolvedRoot, "backend"), got)

	_, err = ValidateDir(other, []string{root})
	assert.ErrorIs(t, err, ErrDirNotAllowed)

	_, err = ValidateDir(inside+"/../..", []string{root})
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ValidateDir("", nil)
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = ValidateDir(other, nil)
	assert.NoError(t, err)
}

func TestValidateDir_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := ValidateDir(link, []string{root})
	assert.ErrorIs(t, err, ErrDirNotAllowed)
}
