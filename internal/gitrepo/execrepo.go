// Package gitrepo provides the engine's git operations in two halves: an
// exec-based one (execrepo.go) for operations where shelling out to the
// user's configured git is the right tool (signed tags, push, checkout),
// and a go-git-backed one (walk.go) for the commit walk and ancestry
// checks, which must not rely on an external binary to enumerate history.
package gitrepo

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExecRepo shells out to the system git binary. It is used for the
// mutating operations the engine needs on the real working tree: checkout,
// add, commit, tag, push.
type ExecRepo struct {
	Path string
}

func NewExecRepo(path string) *ExecRepo {
	return &ExecRepo{Path: path}
}

func (r *ExecRepo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// RevParse resolves ref (tag, branch, or SHA) to a full SHA.
func (r *ExecRepo) RevParse(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	return r.run(ctx, "rev-parse", ref)
}

// CurrentBranch returns the current branch name; errors if HEAD is detached.
func (r *ExecRepo) CurrentBranch(ctx context.Context) (string, error) {
	name, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if name == "HEAD" {
		return "", fmt.Errorf("HEAD is detached")
	}
	return name, nil
}

// Checkout switches the working tree to ref.
func (r *ExecRepo) Checkout(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "checkout", ref)
	return err
}

// CheckoutNewBranch creates and switches to a new branch at HEAD (or base if given).
func (r *ExecRepo) CheckoutNewBranch(ctx context.Context, branch, base string) error {
	args := []string{"checkout", "-B", branch}
	if base != "" {
		args = append(args, base)
	}
	_, err := r.run(ctx, args...)
	return err
}

// Add stages paths.
func (r *ExecRepo) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add"}, paths...)
	_, err := r.run(ctx, args...)
	return err
}

// Commit creates a commit with message from the currently staged changes.
func (r *ExecRepo) Commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "-m", message)
	return err
}

// CreateAnnotatedTag creates a local annotated tag at HEAD with message.
// Whether it is GPG-signed is controlled by the repository's own
// tag.gpgSign config -- the engine never passes -s itself, it only decides
// *whether* to create the tag locally at all.
func (r *ExecRepo) CreateAnnotatedTag(ctx context.Context, name, message string) error {
	_, err := r.run(ctx, "tag", "-a", name, "-m", message)
	return err
}

// TagSigningConfigured reports whether tag.gpgSign is true in the
// repository's effective git config, which decides whether tags are
// created locally (signed) or via the forge API.
func (r *ExecRepo) TagSigningConfigured(ctx context.Context) bool {
	out, err := r.run(ctx, "config", "--get", "tag.gpgSign")
	if err != nil {
		return false
	}
	signed, _ := strconv.ParseBool(out)
	return signed
}

// Push pushes ref to remote, force-updating if force is set (used for the
// release branch, which may be re-pushed across runs).
func (r *ExecRepo) Push(ctx context.Context, remote, ref string, force bool) error {
	args := []string{"push", remote}
	if force {
		args = append(args, "--force")
	}
	args = append(args, ref)
	_, err := r.run(ctx, args...)
	return err
}

// FetchTags fetches tags from remote, used before checking "does this tag
// already exist on the remote".
func (r *ExecRepo) FetchTags(ctx context.Context, remote string) error {
	_, err := r.run(ctx, "fetch", remote, "--tags")
	return err
}

// RemoteURL returns the fetch URL configured for remote.
func (r *ExecRepo) RemoteURL(ctx context.Context, remote string) (string, error) {
	return r.run(ctx, "config", "--get", "remote."+remote+".url")
}

// ParseForgeOwnerRepo extracts owner/repo from an https or ssh remote URL.
// It is host-agnostic because the forge adapter covers three dialects, not
// just GitHub.
func ParseForgeOwnerRepo(remoteURL string) (owner, repo string, err error) {
	remoteURL = strings.TrimSuffix(remoteURL, ".git")
	var rest string
	switch {
	case strings.Contains(remoteURL, "://"):
		parts := strings.SplitN(remoteURL, "://", 2)
		hostAndPath := parts[1]
		slash := strings.IndexByte(hostAndPath, '/')
		if slash < 0 {
			return "", "", fmt.Errorf("not a recognizable forge URL: %s", remoteURL)
		}
		rest = hostAndPath[slash+1:]
	case strings.Contains(remoteURL, "@") && strings.Contains(remoteURL, ":"):
		parts := strings.SplitN(remoteURL, ":", 2)
		rest = parts[1]
	default:
		return "", "", fmt.Errorf("not a recognizable forge URL: %s", remoteURL)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("could not parse owner/repo from %s", remoteURL)
	}
	return parts[0], parts[1], nil
}
