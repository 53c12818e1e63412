// Package gitinfo derives default project and commit values from the git
// repository around a working directory.
package gitinfo

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Info describes the repository a review runs in.
type Info struct {
	// Project is the origin repository name, or the worktree directory name.
	Project string

	// Commit is the HEAD commit hash. Empty for a repository without commits.
	Commit string

	// Root is the worktree root. Empty outside a repository.
	Root string
}

// Detect inspects the repository containing dir. Outside a repository it
// returns the directory name as the project and no error.
func Detect(dir string) (Info, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Info{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Info{Project: filepath.Base(abs)}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to open repository: %w", err)
	}

	var info Info
	if wt, err := repo.Worktree(); err == nil {
		info.Root = wt.Filesystem.Root()
	}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.Project = RepoName(urls[0])
		}
	}
	if info.Project == "" {
		if info.Root != "" {
			info.Project = filepath.Base(info.Root)
		} else {
			info.Project = filepath.Base(abs)
		}
	}

	head, err := repo.Head()
	switch {
	case err == nil:
		info.Commit = head.Hash().String()
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// unborn branch
	default:
		return info, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return info, nil
}

// RepoName extracts the repository name from a remote URL.
// Supports: git@github.com:user/repo.git, https://github.com/user/repo.git
func RepoName(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	url = strings.TrimSuffix(url, ".git")
	if i := strings.LastIndex(url, ":"); i >= 0 && !strings.Contains(url[i:], "/") {
		// scp-style host:repo with no owner
		url = url[i+1:]
	}
	name := path.Base(strings.ReplaceAll(url, ":", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
