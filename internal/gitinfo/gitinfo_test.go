package gitinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository named "widgets" with one commit.
func initRepo(t *testing.T) (string, *git.Repository, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "widgets")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main\n"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("src/main.go")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, repo, hash.String()
}

func TestDetect_Repository(t *testing.T) {
	dir, _, commit := initRepo(t)

	info, err := Detect(filepath.Join(dir, "src"))
	require.NoError(t, err)
	assert.Equal(t, "widgets", info.Project)
	assert.Equal(t, commit, info.Commit)
	assert.Equal(t, dir, info.Root)
}

func TestDetect_OriginRemote(t *testing.T) {
	dir, repo, _ := initRepo(t)
	_, err := repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:acme/gadgets.git"},
	})
	require.NoError(t, err)

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "gadgets", info.Project)
}

func TestDetect_NoCommits(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "empty", info.Project)
	assert.Empty(t, info.Commit)
}

func TestDetect_NotARepository(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.MkdirAll(dir, 0755))

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, Info{Project: "plain"}, info)
}

func TestRepoName(t *testing.T) {
	tests := map[string]string{
		"git@github.com:acme/widgets.git":     "widgets",
		"https://github.com/acme/widgets.git": "widgets",
		"https://gitlab.com/a/b/c/":           "c",
		"ssh://git@host:22/team/repo":         "repo",
		"host:repo.git":                       "repo",
		"":                                    "",
	}
	for url, want := range tests {
		assert.Equal(t, want, RepoName(url), url)
	}
}
