package registry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/secana/k-releaser/internal/forge"
)

// HTTPIndex queries a sparse HTTP index (e.g. a "sparse+https://..." URL):
// a plain GET against the sharded per-package path, where 404 means the
// package has never been published.
type HTTPIndex struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPIndex(baseURL string) *HTTPIndex {
	return &HTTPIndex{
		client:  resty.New(),
		baseURL: baseURL,
	}
}

func (i *HTTPIndex) Contains(ctx context.Context, name, version string) (bool, error) {
	url := fmt.Sprintf("%s/%s", trimTrailingSlash(i.baseURL), shardedPath(name))
	var raw []byte
	err := forge.Do(ctx, func(ctx context.Context) error {
		resp, err := i.client.R().SetContext(ctx).SetDoNotParseResponse(false).Get(url)
		if err != nil {
			return forge.Transient(err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			raw = nil
			return nil
		}
		if resp.StatusCode() >= 500 {
			return forge.Transient(fmt.Errorf("sparse index returned %s", resp.Status()))
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("sparse index returned %s for %s", resp.Status(), url)
		}
		raw = resp.Body()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("querying sparse index for %s: %w", name, err)
	}
	if raw == nil {
		return false, nil
	}
	return containsVersion(raw, version)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
