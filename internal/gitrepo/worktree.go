package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WorktreeGuard serializes mutating access to a repository's working tree.
// Checkouts, manifest bumps, and changelog writes all happen under the
// guard, so at most one checkout operation is ever in flight against a
// given repository even when several engine invocations race (e.g. two CI
// jobs triggered by the same push).
type WorktreeGuard struct {
	lock *flock.Flock
}

// AcquireWorktree takes an exclusive file lock keyed on the repository
// path. It fails immediately rather than blocking: a second invocation
// racing the first is a configuration problem the operator should see, not
// silently queue behind.
func AcquireWorktree(repoPath string) (*WorktreeGuard, error) {
	lockPath := filepath.Join(os.TempDir(), fmt.Sprintf(".k-releaser-%s.lock", sanitizeForLockName(repoPath)))
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring worktree lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another checkout is already in flight against %s", repoPath)
	}
	return &WorktreeGuard{lock: fl}, nil
}

// Release gives the lock up. Safe to call from a defer on every exit path.
func (g *WorktreeGuard) Release() error {
	return g.lock.Unlock()
}

func sanitizeForLockName(path string) string {
	out := make([]byte, 0, len(path))
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
