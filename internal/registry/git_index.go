package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// GitIndex queries a git-cloned registry index (the default when the
// configured index URL has no "sparse+" prefix). The clone is cached
// under cacheDir and updated with a pull before each lookup so a
// long-running publish loop observes newly-pushed index entries without
// re-cloning from scratch every time.
type GitIndex struct {
	url      string
	repoPath string
}

// NewGitIndex clones (or reuses an existing clone of) url into a
// deterministic subdirectory of cacheDir.
func NewGitIndex(url, cacheDir string) (*GitIndex, error) {
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	repoPath := filepath.Join(cacheDir, "k-releaser-index-"+sanitizeURLForPath(url))
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); errors.Is(err, os.ErrNotExist) {
		if _, err := git.PlainClone(repoPath, false, &git.CloneOptions{URL: url, Depth: 1}); err != nil {
			return nil, fmt.Errorf("cloning registry index %s: %w", url, err)
		}
	}
	return &GitIndex{url: url, repoPath: repoPath}, nil
}

func (i *GitIndex) refresh(ctx context.Context) error {
	repo, err := git.PlainOpen(i.repoPath)
	if err != nil {
		return fmt.Errorf("opening cached index clone: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening index worktree: %w", err)
	}
	err = wt.PullContext(ctx, &git.PullOptions{Depth: 1})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pulling registry index: %w", err)
	}
	return nil
}

func (i *GitIndex) Contains(ctx context.Context, name, version string) (bool, error) {
	if err := i.refresh(ctx); err != nil {
		return false, err
	}
	path := filepath.Join(i.repoPath, filepath.FromSlash(shardedPath(name)))
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading index entry for %s: %w", name, err)
	}
	return containsVersion(raw, version)
}

func sanitizeURLForPath(url string) string {
	out := make([]byte, 0, len(url))
	for _, r := range url {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
