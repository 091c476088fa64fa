// Package registry implements the registry index abstraction: an opaque
// handle with one operation, Contains(name, version) -> bool | error, plus
// the primary/fallback lookup and post-publish settle-polling logic the
// publish controller needs. A "sparse+" URL prefix selects the HTTP
// sparse-index client; anything else is a git-cloned index.
package registry

import (
	"context"
	"fmt"
	"strings"
)

// Index is the uniform registry lookup surface.
type Index interface {
	Contains(ctx context.Context, name, version string) (bool, error)
}

// New builds an Index for url: a "sparse+" prefix selects the HTTP sparse
// index client; anything else is treated as a git-cloned index.
func New(url, cacheDir string) (Index, error) {
	if strings.HasPrefix(url, "sparse+") {
		return NewHTTPIndex(strings.TrimPrefix(url, "sparse+")), nil
	}
	return NewGitIndex(url, cacheDir)
}

// shardedPath computes the per-crate file path within a cargo-style
// registry index: 1 and 2 character names live at the top level; 3
// character names are sharded by their first character; everything else is
// sharded by its first two and next two characters. Both the git index
// clone and the HTTP sparse index use this layout.
func shardedPath(name string) string {
	switch {
	case len(name) == 1:
		return fmt.Sprintf("1/%s", name)
	case len(name) == 2:
		return fmt.Sprintf("2/%s", name)
	case len(name) == 3:
		return fmt.Sprintf("3/%s/%s", name[:1], name)
	default:
		return fmt.Sprintf("%s/%s/%s", name[:2], name[2:4], name)
	}
}

// indexEntry is one newline-delimited-JSON line of a per-package index
// file.
type indexEntry struct {
	Name    string `json:"name"`
	Version string `json:"vers"`
	Yanked  bool   `json:"yanked"`
}

// containsVersion scans raw (the full per-package index file contents, one
// JSON object per line) for a non-yanked entry matching version.
func containsVersion(raw []byte, version string) (bool, error) {
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, err := parseIndexLine(line)
		if err != nil {
			continue // a malformed line shouldn't fail the whole lookup
		}
		if entry.Version == version && !entry.Yanked {
			return true, nil
		}
	}
	return false, nil
}
