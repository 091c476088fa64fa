package registry

import (
	"context"
	"fmt"
)

// FallbackIndex wraps a primary Index with a fallback queried when the
// primary errors. Once the fallback answers
// successfully it is promoted for subsequent lookups, since a primary that
// failed once during a release run is likely to keep failing (a CDN outage,
// a stale mirror) and re-probing it on every package wastes the publish
// loop's time budget.
type FallbackIndex struct {
	primary  Index
	fallback Index
	usingFB  bool
}

// NewFallbackIndex returns an Index that tries primary first and falls back
// to fallback on error. fallback may be nil, in which case primary errors
// propagate unchanged.
func NewFallbackIndex(primary, fallback Index) *FallbackIndex {
	return &FallbackIndex{primary: primary, fallback: fallback}
}

func (f *FallbackIndex) Contains(ctx context.Context, name, version string) (bool, error) {
	if f.usingFB || f.primary == nil {
		return f.queryFallback(ctx, name, version, nil)
	}
	ok, err := f.primary.Contains(ctx, name, version)
	if err == nil {
		return ok, nil
	}
	if f.fallback == nil {
		return false, err
	}
	return f.queryFallback(ctx, name, version, err)
}

func (f *FallbackIndex) queryFallback(ctx context.Context, name, version string, primaryErr error) (bool, error) {
	if f.fallback == nil {
		return false, primaryErr
	}
	ok, err := f.fallback.Contains(ctx, name, version)
	if err != nil {
		if primaryErr != nil {
			return false, fmt.Errorf("primary index failed (%v) and fallback index failed: %w", primaryErr, err)
		}
		return false, fmt.Errorf("fallback index failed: %w", err)
	}
	f.usingFB = true
	return ok, nil
}
