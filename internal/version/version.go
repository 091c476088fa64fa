// Package version resolves the next semantic version for a package or
// workspace from a classified commit stream, implementing the bump rules of
// the version resolver component.
package version

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/secana/k-releaser/internal/conventional"
)

// Bump names the kind of version increment chosen.
type Bump int

const (
	BumpNone Bump = iota
	BumpPatch
	BumpMinor
	BumpMajor
	BumpPrerelease
)

func (b Bump) String() string {
	switch b {
	case BumpPatch:
		return "patch"
	case BumpMinor:
		return "minor"
	case BumpMajor:
		return "major"
	case BumpPrerelease:
		return "prerelease"
	default:
		return "none"
	}
}

// Rules configures the pre-1.0 and custom-regex knobs from the release
// configuration.
type Rules struct {
	BreakingAlwaysIncrementMajor bool
	FeaturesAlwaysIncrementMinor bool
	CustomMajorRegex             string
	CustomMinorRegex             string
}

// Resolver computes next versions from classified commits.
type Resolver struct {
	Rules Rules

	majorRe *regexp.Regexp
	minorRe *regexp.Regexp
}

// NewResolver compiles the custom regexes once so Resolve can be called
// repeatedly (once per package, or once for the unified workspace).
func NewResolver(rules Rules) (*Resolver, error) {
	r := &Resolver{Rules: rules}
	if rules.CustomMajorRegex != "" {
		re, err := regexp.Compile(rules.CustomMajorRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling custom major regex: %w", err)
		}
		r.majorRe = re
	}
	if rules.CustomMinorRegex != "" {
		re, err := regexp.Compile(rules.CustomMinorRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling custom minor regex: %w", err)
		}
		r.minorRe = re
	}
	return r, nil
}

// Resolve returns the bump kind and resulting version for the current
// version and the already-filtered commit list. If no relevant commit
// remains after filtering, it returns (BumpNone, current, nil) unchanged.
func (r *Resolver) Resolve(current *semver.Version, commits []conventional.Commit) (Bump, *semver.Version, error) {
	relevant := filterRelevant(commits)
	if len(relevant) == 0 {
		return BumpNone, current, nil
	}

	if current.Prerelease() != "" {
		next, err := nextPrerelease(current)
		return BumpPrerelease, next, err
	}

	breaking := false
	feature := false
	for _, c := range relevant {
		if c.Breaking {
			breaking = true
		}
		if c.IsFeature() {
			feature = true
		}
		if r.majorRe != nil && r.majorRe.MatchString(c.Subject) {
			breaking = true
		}
		if r.minorRe != nil && r.minorRe.MatchString(c.Subject) {
			feature = true
		}
	}

	major := current.Major()

	if breaking {
		switch {
		case major >= 1 || r.Rules.BreakingAlwaysIncrementMajor:
			return BumpMajor, ptr(current.IncMajor()), nil
		case major == 0 && current.Minor() > 0:
			return BumpMinor, ptr(current.IncMinor()), nil
		default:
			return BumpPatch, ptr(current.IncPatch()), nil
		}
	}

	if feature {
		if major >= 1 || r.Rules.FeaturesAlwaysIncrementMinor {
			return BumpMinor, ptr(current.IncMinor()), nil
		}
		return BumpPatch, ptr(current.IncPatch()), nil
	}

	return BumpPatch, ptr(current.IncPatch()), nil
}

// filterRelevant drops commits whose type contributes nothing to the bump
// decision (docs/style/refactor/perf/test/chore/ci), unless they are
// breaking.
func filterRelevant(commits []conventional.Commit) []conventional.Commit {
	out := make([]conventional.Commit, 0, len(commits))
	for _, c := range commits {
		if c.IsRelevant() {
			out = append(out, c)
		}
	}
	return out
}

func ptr(v semver.Version) *semver.Version { return &v }

// nextPrerelease increments the numeric suffix of an existing pre-release
// tag, e.g. 1.2.3-rc.1 -> 1.2.3-rc.2. If the tag has no numeric suffix, a
// ".1" is appended.
func nextPrerelease(current *semver.Version) (*semver.Version, error) {
	pre := current.Prerelease()
	base, num := splitTrailingNumber(pre)
	next := fmt.Sprintf("%s.%d", base, num+1)
	v, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d-%s", current.Major(), current.Minor(), current.Patch(), next))
	if err != nil {
		return nil, fmt.Errorf("computing next prerelease: %w", err)
	}
	return v, nil
}

func splitTrailingNumber(pre string) (string, int) {
	re := regexp.MustCompile(`^(.*?)\.?(\d+)$`)
	m := re.FindStringSubmatch(pre)
	if m == nil {
		return pre, 0
	}
	n := 0
	for _, r := range m[2] {
		n = n*10 + int(r-'0')
	}
	return m[1], n
}
