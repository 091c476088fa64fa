package changelog

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Request is one package's synthesis input for ComputeMany.
type Request struct {
	Existing    string
	NextVersion string
	Commits     []Commit
	Options     Options
}

// Computed is one package's synthesis output.
type Computed struct {
	Full  string
	Delta string
}

// ComputeMany runs Synthesize for every request concurrently, bounded by
// GOMAXPROCS workers. Each call only renders a template against
// already-collected commits and an already-read existing changelog string,
// touching no shared worktree state, so the fan-out is safe. Results
// preserve request order regardless of completion order.
func ComputeMany(ctx context.Context, reqs []Request) ([]Computed, error) {
	out := make([]Computed, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			full, delta, err := Synthesize(req.Existing, req.NextVersion, req.Commits, req.Options)
			if err != nil {
				return err
			}
			out[i] = Computed{Full: full, Delta: delta}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
