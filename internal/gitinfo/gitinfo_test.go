package gitinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func commitFile(t *testing.T, dir string, repo *git.Repository, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestDetect_NotARepository(t *testing.T) {
	rev, err := Detect(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, rev)
}

func TestDetect_UnbornHead(t *testing.T) {
	dir, _ := initRepo(t)

	rev, err := Detect(dir)
	require.NoError(t, err)
	assert.Nil(t, rev)
}

func TestDetect_CleanAndDirty(t *testing.T) {
	dir, repo := initRepo(t)
	hash := commitFile(t, dir, repo, "index.html", "<h1>hi</h1>")

	rev, err := Detect(dir)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, hash, rev.Commit)
	assert.Equal(t, "master", rev.Branch)
	assert.False(t, rev.Dirty)
	assert.Len(t, rev.Short(), 12)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>changed</h1>"), 0o644))
	rev, err = Detect(dir)
	require.NoError(t, err)
	assert.True(t, rev.Dirty)
}

func TestDetect_Subdirectory(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, dir, repo, "README.md", "x")
	sub := filepath.Join(dir, "web")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	rev, err := Detect(sub)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.NotEmpty(t, rev.Commit)
}
