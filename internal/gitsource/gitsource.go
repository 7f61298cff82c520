package gitsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNoCommits is returned for a repository whose HEAD does not resolve yet.
var ErrNoCommits = errors.New("repository has no commits")

// Info is a snapshot of a working copy.
type Info struct {
	Hash   string `json:"hash"`
	Branch string `json:"branch"` // "HEAD" when detached
	Dirty  bool   `json:"dirty"`
}

// Read inspects the repository containing dir. Parent directories are searched
// for the .git directory. If ctx ends first, Read returns ctx's error and the
// inspection is abandoned.
func Read(ctx context.Context, dir string) (*Info, error) {
	type result struct {
		info *Info
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := read(dir)
		done <- result{info, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to inspect repo at %s: %w", dir, ctx.Err())
	case r := <-done:
		return r.info, r.err
	}
}

func read(dir string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repo at %s: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("failed to resolve HEAD at %s: %w", dir, ErrNoCommits)
		}
		return nil, fmt.Errorf("failed to resolve HEAD at %s: %w", dir, err)
	}

	info := &Info{Hash: head.Hash().String(), Branch: "HEAD"}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree for repo at %s: %w", dir, err)
	}
	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get status for repo at %s: %w", dir, err)
	}
	info.Dirty = !status.IsClean()

	return info, nil
}
