// Package releasectl implements the release decision and per-release
// action loop: deciding whether the current commit warrants a release,
// then tagging and creating forge releases in release order (tag first,
// then contributor collection, then the forge release whose body lists
// those contributors).
package releasectl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"

	"github.com/secana/k-releaser/internal/config"
	"github.com/secana/k-releaser/internal/forge"
)

// Decision is the outcome of ShouldRelease.
type Decision int

const (
	DecisionNo Decision = iota
	DecisionYes
	DecisionYesWithCommit
)

func (d Decision) String() string {
	switch d {
	case DecisionYes:
		return "yes"
	case DecisionYesWithCommit:
		return "yes-with-commit"
	default:
		return "no"
	}
}

// Verdict is the full should_release result.
type Verdict struct {
	Decision Decision
	// CommitSHA is set when Decision is DecisionYesWithCommit: the
	// pre-merge commit the controller must temporarily check out so the
	// right tree is released.
	CommitSHA string
}

// CommitExistsChecker reports whether a commit sha is still present and
// reachable in the repository, used to validate a PR's last pre-merge
// commit before checking it out.
type CommitExistsChecker interface {
	CommitExists(ctx context.Context, sha string) (bool, error)
}

// ShouldRelease decides whether the current commit warrants a release:
// yes (optionally pinned to the release PR's last pre-merge commit) when a
// release PR is associated with it, yes when releaseAlways is set, no
// otherwise.
func ShouldRelease(ctx context.Context, f forge.Forge, checker CommitExistsChecker, currentSHA, branchPrefix string, releaseAlways bool) (Verdict, error) {
	prs, err := f.AssociatedPRs(ctx, currentSHA)
	if err != nil && !errors.Is(err, forge.ErrNotFound) {
		return Verdict{}, fmt.Errorf("looking up PRs associated with %s: %w", currentSHA, err)
	}

	for _, pr := range prs {
		if !strings.HasPrefix(pr.HeadBranch, branchPrefix) {
			continue
		}
		commits, err := f.PRCommits(ctx, pr.Number)
		if err != nil {
			return Verdict{}, fmt.Errorf("listing commits for PR #%d: %w", pr.Number, err)
		}
		if len(commits) == 0 {
			return Verdict{Decision: DecisionYes}, nil
		}
		// The last commit for a non-squashed release PR is its last
		// pre-merge commit.
		preMerge := commits[len(commits)-1]
		exists, err := checker.CommitExists(ctx, preMerge)
		if err != nil {
			return Verdict{}, fmt.Errorf("checking existence of %s: %w", preMerge, err)
		}
		if exists {
			return Verdict{Decision: DecisionYesWithCommit, CommitSHA: preMerge}, nil
		}
		// Squash merges rewrite history so the pre-merge commit no longer
		// exists; fall back to releasing the current (merge) commit.
		return Verdict{Decision: DecisionYes}, nil
	}

	if releaseAlways {
		return Verdict{Decision: DecisionYes}, nil
	}
	return Verdict{Decision: DecisionNo}, nil
}

// TagOps is the subset of *gitrepo.ExecRepo the controller needs for tag
// creation and checkout discipline.
type TagOps interface {
	FetchTags(ctx context.Context, remote string) error
	TagSigningConfigured(ctx context.Context) bool
	CreateAnnotatedTag(ctx context.Context, name, message string) error
	RevParse(ctx context.Context, ref string) (string, error)
	Checkout(ctx context.Context, ref string) error
	Push(ctx context.Context, remote, ref string, force bool) error
}

// TagLister enumerates local tag names, used to detect an already-existing
// remote tag after FetchTags has pulled it down.
type TagLister interface {
	ListTags() ([]string, error)
}

// PackageRelease is one package's already-resolved release content, with
// tag/release names already rendered against their templates by the
// caller (internal/workspace).
type PackageRelease struct {
	Name                string
	Version             *semver.Version
	Unified             bool
	TagName             string
	ReleaseName         string
	ReleaseBodyTemplate string
	ReleaseType         config.ReleaseType
	Draft               bool
	Latest              *bool
	TagEnabled          bool
	ReleaseEnabled      bool
	// ChangelogEntry is the package's last changelog entry, recovered from
	// disk if available, otherwise extracted from the release PR body by
	// the caller.
	ChangelogEntry string
	// AssociatedPRNumbers names the PRs whose authors should be collected
	// as contributors for this release.
	AssociatedPRNumbers []int
}

// PRRef is one PR number associated with a release in the JSON output.
type PRRef struct {
	Number int `json:"number"`
}

// ReleaseEntry is one package's release result, matching the `release`
// JSON output schema.
type ReleaseEntry struct {
	PackageName string  `json:"package_name"`
	Version     string  `json:"version"`
	Tag         string  `json:"tag"`
	PRs         []PRRef `json:"prs"`
}

// Result is the full `release` JSON output shape.
type Result struct {
	Releases []ReleaseEntry `json:"releases"`
}

// Controller drives the per-release action loop against a real forge and
// git worktree.
type Controller struct {
	Forge  forge.Forge
	Git    TagOps
	Tags   TagLister
	Remote string
	DryRun bool
}

// Run executes the per-release action loop for packages in release order.
// When verdict carries a CommitSHA, that commit is checked out for the
// duration and the previous HEAD restored on every exit path.
func (c *Controller) Run(ctx context.Context, verdict Verdict, packages []PackageRelease) (*Result, error) {
	if verdict.Decision == DecisionNo {
		return nil, nil
	}

	if verdict.Decision == DecisionYesWithCommit {
		restore, err := c.checkoutForRelease(ctx, verdict.CommitSHA)
		if err != nil {
			return nil, err
		}
		defer restore()
	}

	remote := c.Remote
	if remote == "" {
		remote = "origin"
	}
	if err := c.Git.FetchTags(ctx, remote); err != nil {
		return nil, fmt.Errorf("fetching tags: %w", err)
	}
	existingTags, err := c.Tags.ListTags()
	if err != nil {
		return nil, fmt.Errorf("listing local tags: %w", err)
	}
	have := make(map[string]bool, len(existingTags))
	for _, t := range existingTags {
		have[t] = true
	}

	result := &Result{}
	for _, pkg := range packages {
		if have[pkg.TagName] {
			c.log("tag %s already exists remotely, skipping %s", pkg.TagName, pkg.Name)
			continue
		}

		if err := c.maybeCreateTag(ctx, remote, pkg); err != nil {
			return nil, err
		}

		if err := c.maybeCreateRelease(ctx, pkg); err != nil {
			return nil, err
		}

		entry := ReleaseEntry{PackageName: pkg.Name, Version: pkg.Version.String(), Tag: pkg.TagName}
		for _, n := range pkg.AssociatedPRNumbers {
			entry.PRs = append(entry.PRs, PRRef{Number: n})
		}
		result.Releases = append(result.Releases, entry)
	}
	return result, nil
}

func (c *Controller) checkoutForRelease(ctx context.Context, sha string) (func(), error) {
	previous, err := c.Git.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving current HEAD before checkout: %w", err)
	}
	if err := c.Git.Checkout(ctx, sha); err != nil {
		return nil, fmt.Errorf("checking out pre-merge commit %s: %w", sha, err)
	}
	return func() {
		if err := c.Git.Checkout(ctx, previous); err != nil {
			c.log("failed to restore previous HEAD %s: %v", previous, err)
		}
	}, nil
}

func (c *Controller) maybeCreateTag(ctx context.Context, remote string, pkg PackageRelease) error {
	if !pkg.TagEnabled {
		return nil
	}
	message := fmt.Sprintf("chore: Release package %s version %s", pkg.Name, pkg.Version)
	if c.DryRun {
		c.log("would create tag %s (%s)", pkg.TagName, message)
		return nil
	}
	if c.Git.TagSigningConfigured(ctx) {
		if err := c.Git.CreateAnnotatedTag(ctx, pkg.TagName, message); err != nil {
			return fmt.Errorf("creating local signed tag %s: %w", pkg.TagName, err)
		}
		if err := c.Git.Push(ctx, remote, "refs/tags/"+pkg.TagName, false); err != nil {
			return fmt.Errorf("pushing tag %s: %w", pkg.TagName, err)
		}
		return nil
	}
	sha, err := c.Git.RevParse(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("resolving HEAD for tag %s: %w", pkg.TagName, err)
	}
	if err := c.Forge.CreateAnnotatedTag(ctx, forge.Tag{Name: pkg.TagName, TargetSHA: sha, AnnotatedBody: message}); err != nil {
		return fmt.Errorf("creating tag %s via forge API: %w", pkg.TagName, err)
	}
	return nil
}

func (c *Controller) maybeCreateRelease(ctx context.Context, pkg PackageRelease) error {
	if !pkg.ReleaseEnabled {
		return nil
	}

	prerelease := false
	switch pkg.ReleaseType {
	case config.ReleaseTypePre:
		prerelease = true
	case config.ReleaseTypeAuto:
		prerelease = pkg.Version.Prerelease() != ""
	}

	contributors, err := c.collectContributors(ctx, pkg.AssociatedPRNumbers)
	if err != nil {
		return err
	}

	body, err := renderReleaseBody(pkg.ReleaseBodyTemplate, releaseBodyVars{
		Version:      pkg.Version.String(),
		PackageName:  pkg.Name,
		Notes:        pkg.ChangelogEntry,
		Contributors: contributors,
	})
	if err != nil {
		return err
	}

	if c.DryRun {
		c.log("would create release %s for %s (prerelease=%v draft=%v)", pkg.ReleaseName, pkg.Name, prerelease, pkg.Draft)
		return nil
	}

	_, err = c.Forge.CreateRelease(ctx, forge.CreateReleaseOptions{
		TagName:    pkg.TagName,
		Name:       pkg.ReleaseName,
		Body:       body,
		Draft:      pkg.Draft,
		Prerelease: prerelease,
		Latest:     pkg.Latest,
	})
	if err != nil {
		return fmt.Errorf("creating release for %s: %w", pkg.Name, err)
	}
	return nil
}

// collectContributors fetches PR author logins for the release's
// associated PRs and de-duplicates by login. There is no batch-contributor
// operation in the forge interface, so this loops GetPR; PR counts per
// release are small enough that the extra round trips do not matter.
func (c *Controller) collectContributors(ctx context.Context, prNumbers []int) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, n := range prNumbers {
		pr, err := c.Forge.GetPR(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("fetching PR #%d for contributor collection: %w", n, err)
		}
		if pr.Author == "" || seen[pr.Author] {
			continue
		}
		seen[pr.Author] = true
		out = append(out, pr.Author)
	}
	return out, nil
}

func (c *Controller) log(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

type releaseBodyVars struct {
	Version      string
	PackageName  string
	Notes        string
	Contributors []string
}

const defaultReleaseBodyTemplate = `{{.Notes}}
{{if .Contributors}}
**Contributors**: {{range $i, $c := .Contributors}}{{if $i}}, {{end}}@{{$c}}{{end}}
{{end}}`

func renderReleaseBody(tmplText string, vars releaseBodyVars) (string, error) {
	if tmplText == "" {
		tmplText = defaultReleaseBodyTemplate
	}
	tmpl, err := template.New("release-body").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parsing release_body_template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering release_body_template: %w", err)
	}
	return buf.String(), nil
}
