// Package gitrepo answers the daemon's questions about Git repositories:
// whether a path is one, where its root is, and which branch is checked out.
package gitrepo

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// DetachedHead is reported as the branch of a repository whose HEAD points at
// a commit rather than a branch, matching `git rev-parse --abbrev-ref HEAD`.
const DetachedHead = "HEAD"

// ErrNotRepository is returned for paths outside any Git repository.
var ErrNotRepository = errors.New("not a git repository")

// Repo is the Git capability the daemon depends on.
type Repo interface {
	IsRepo(path string) bool
	CurrentBranch(path string) (string, error)
}

// GoGit implements Repo by reading repositories with go-git, without
// spawning git processes.
type GoGit struct{}

var _ Repo = GoGit{}

func (GoGit) open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return repo, nil
}

// IsRepo reports whether path is inside a Git working tree.
func (g GoGit) IsRepo(path string) bool {
	_, err := g.Root(path)
	return err == nil
}

// Root returns the top-level directory of the working tree containing path.
func (g GoGit) Root(path string) (string, error) {
	repo, err := g.open(path)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no working tree to track time in.
		return "", fmt.Errorf("%w: %s: %v", ErrNotRepository, path, err)
	}
	return wt.Filesystem.Root(), nil
}

// CurrentBranch returns the short name of the checked-out branch. An unborn
// branch (no commits yet) still reports its name.
func (g GoGit) CurrentBranch(path string) (string, error) {
	repo, err := g.open(path)
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD in %s: %w", path, err)
	}
	if ref.Type() != plumbing.SymbolicReference {
		return DetachedHead, nil
	}
	return ref.Target().Short(), nil
}
