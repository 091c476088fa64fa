package gitrepo

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/secana/k-releaser/internal/conventional"
)

// Commit is one walked commit: the full message (subject + blank line +
// body, preserved exactly) plus its sha and, in RemoteAuthor, the author
// email recorded in the commit (empty when the commit has none). No forge
// login is looked up.
type Commit struct {
	SHA          string
	Message      string
	RemoteAuthor string
}

// Walker collects the commit stream using go-git, so history walking
// never depends on first-parent-only traversal the way `git log --
// first-parent` (or naive libraries that default to it) would. go-git's Log
// follows every parent of every commit by default, so commits on merged
// branches are always included.
type Walker struct {
	repo *git.Repository
}

// OpenWalker opens the repository at path for read-only history walking.
func OpenWalker(path string) (*Walker, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	return &Walker{repo: repo}, nil
}

// ResolveTag resolves tagName to the SHA of the commit it ultimately points
// to (peeling annotated tag objects). A missing tag degrades to ("", nil),
// meaning "no last release found"; it is not an error.
func (w *Walker) ResolveTag(tagName string) (string, error) {
	ref, err := w.repo.Tag(tagName)
	if err != nil {
		return "", nil
	}
	commit, err := w.repo.CommitObject(ref.Hash())
	if err == nil {
		return commit.Hash.String(), nil
	}
	// Annotated tag object: peel it to the commit it references.
	tagObj, err := w.repo.TagObject(ref.Hash())
	if err != nil {
		return "", nil
	}
	target, err := tagObj.Commit()
	if err != nil {
		return "", nil
	}
	return target.Hash.String(), nil
}

// CommitExists reports whether sha is present in the repository's object
// store, used by releasectl to check whether a release PR's last pre-merge
// commit survived a squash merge.
func (w *Walker) CommitExists(ctx context.Context, sha string) (bool, error) {
	hash := plumbing.NewHash(sha)
	if hash.IsZero() {
		return false, nil
	}
	if _, err := w.repo.CommitObject(hash); err != nil {
		return false, nil
	}
	return true, nil
}

// ListTags returns every tag name in the repository.
func (w *Walker) ListTags() ([]string, error) {
	iter, err := w.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer iter.Close()
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return names, nil
}

// CommitsSince walks the full history reachable from HEAD, excluding any
// commit that is an ancestor of (or equal to) the commit referenced by
// lastReleaseSHA, bounded by maxCommits (0 means unlimited). Commits are
// returned newest first.
//
// Because go-git's Log traversal follows every parent edge, feature commits
// integrated on a side branch via a true merge commit are included even
// though they are not on the first-parent chain.
func (w *Walker) CommitsSince(lastReleaseSHA string, maxCommits int) ([]Commit, error) {
	head, err := w.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	excluded, err := w.ancestorSet(lastReleaseSHA)
	if err != nil {
		return nil, fmt.Errorf("computing excluded ancestor set: %w", err)
	}

	iter, err := w.repo.Log(&git.LogOptions{
		From:  head.Hash(),
		Order: git.LogOrderCommitterTime,
	})
	if err != nil {
		return nil, fmt.Errorf("walking commit log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if excluded[c.Hash.String()] {
			return nil
		}
		if maxCommits > 0 && len(commits) >= maxCommits {
			return storer.ErrStop
		}
		author := ""
		if c.Author.Email != "" {
			author = c.Author.Email
		}
		commits = append(commits, Commit{
			SHA:          c.Hash.String(),
			Message:      c.Message,
			RemoteAuthor: author,
		})
		return nil
	})
	if err != nil && err != storer.ErrStop {
		return nil, fmt.Errorf("walking commit log: %w", err)
	}
	return commits, nil
}

// ancestorSet computes every commit hash reachable from sha (inclusive),
// i.e. the set of commits "already released" as of that tag, so the main
// walk can exclude them regardless of which branch they were merged
// through.
func (w *Walker) ancestorSet(sha string) (map[string]bool, error) {
	set := map[string]bool{}
	if sha == "" {
		return set, nil
	}
	start := plumbing.NewHash(sha)
	if start.IsZero() {
		return set, nil
	}
	startCommit, err := w.repo.CommitObject(start)
	if err != nil {
		// A dangling/unreachable tag target degrades to "no boundary" rather
		// than a fatal error, same as a missing tag.
		return set, nil
	}

	queue := []*object.Commit{startCommit}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		h := c.Hash.String()
		if set[h] {
			continue
		}
		set[h] = true
		err := c.Parents().ForEach(func(p *object.Commit) error {
			if !set[p.Hash.String()] {
				queue = append(queue, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return set, nil
}

// ParseCommits converts walked commits into conventional-commit form and
// applies the optional release-commits regex filter.
func ParseCommits(commits []Commit, releaseCommitsFilter func(subject string) bool) []conventional.Commit {
	out := make([]conventional.Commit, 0, len(commits))
	for _, c := range commits {
		parsed := conventional.Parse(c.Message)
		if releaseCommitsFilter != nil && !releaseCommitsFilter(parsed.Subject) {
			continue
		}
		parsed.SHA = c.SHA
		parsed.RemoteAuthor = c.RemoteAuthor
		out = append(out, parsed)
	}
	return out
}
