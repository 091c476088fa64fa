package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/secana/k-releaser/internal/engineerr"
)

// WaitOptions configures Wait. The interval grows exponentially (capped
// at MaxInterval) instead of staying fixed, since registries can take
// anywhere from a second to several minutes to settle a freshly published
// version.
type WaitOptions struct {
	// Timeout is the maximum time to wait for the version to appear.
	Timeout time.Duration
	// Interval is the initial poll interval.
	Interval time.Duration
	// MaxInterval caps the growth of Interval between polls.
	MaxInterval time.Duration
}

// DefaultWaitOptions returns the stock settle policy: a 30 minute timeout,
// polling every 5 seconds and backing off to at most every 30 seconds.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Timeout:     30 * time.Minute,
		Interval:    5 * time.Second,
		MaxInterval: 30 * time.Second,
	}
}

// Wait polls idx until it reports name/version present, the timeout
// elapses, or ctx is cancelled.
func Wait(ctx context.Context, idx Index, name, version string, opts WaitOptions) error {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 30 * time.Second
	}

	deadline := time.Now().Add(opts.Timeout)
	interval := opts.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := idx.Contains(ctx, name, version)
		if err != nil {
			return engineerr.New(engineerr.KindRegistryIndex, name, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return engineerr.New(engineerr.KindPublishPollTimeout, name,
				fmt.Errorf("%s@%s not visible in registry index after %v", name, version, opts.Timeout))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if next := interval * 2; next <= opts.MaxInterval {
			interval = next
			ticker.Reset(interval)
		}
	}
}
