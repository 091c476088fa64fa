// Package releasepr drives the release-PR state machine: given a set of
// packages that already need a version bump (as decided by
// internal/version and internal/changelog upstream), it detects any prior
// open release PR, computes a stable branch name, rewrites manifests and
// changelogs on a release branch, pushes it, and opens or updates the PR.
package releasepr

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/secana/k-releaser/internal/changelog"
	"github.com/secana/k-releaser/internal/engineerr"
	"github.com/secana/k-releaser/internal/forge"
	"github.com/secana/k-releaser/internal/version"
)

// GitOps is the subset of *gitrepo.ExecRepo the controller needs to prepare
// and push a release branch, narrowed to an interface so it can be faked in
// tests.
type GitOps interface {
	CheckoutNewBranch(ctx context.Context, branch, base string) error
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context, remote, ref string, force bool) error
}

// PackagePlan is one package's already-decided release content: the next
// version, the commits that justify it, and where its manifest/changelog
// live on disk.
type PackagePlan struct {
	Name                   string
	CurrentVersion         *semver.Version
	NextVersion            *semver.Version
	Bump                   version.Bump
	Commits                []changelog.Commit
	ManifestPath           string
	ChangelogPath          string
	ChangelogUpdateEnabled bool

	// Delta is filled in by Plan() once the changelog has been synthesized.
	Delta string
}

// Options configures one release-pr run.
type Options struct {
	BranchPrefix    string
	PRNameTemplate  string
	PRBodyTemplate  string
	Labels          []string
	Unified         bool
	ChangelogOpts   changelog.Options
	BaseBranch      string
	Remote          string
	CommitAuthorMsg string // optional extra line appended to the release commit body
	DryRun          bool
	// Quiet suppresses the human-readable dry-run rendering, used when
	// stdout is reserved for the JSON output contract.
	Quiet bool

	// WorkspaceManifestPath, when set (unified mode), is the root manifest
	// whose [workspace.package] version line is bumped alongside the member
	// manifests.
	WorkspaceManifestPath string
	// LockfilePath, when set, has its [[package]] version entries rewritten
	// to match the planned next versions.
	LockfilePath string
}

// ReleaseRef names one package/version pair released by a PR, matching the
// `releases` array in the release-pr JSON schema.
type ReleaseRef struct {
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
}

// Result is the release-pr JSON output shape for a single PR.
type Result struct {
	BaseBranch string       `json:"base_branch"`
	HeadBranch string       `json:"head_branch"`
	HTMLURL    string       `json:"html_url"`
	Number     int          `json:"number"`
	Releases   []ReleaseRef `json:"releases"`
}

// ManifestWriter bumps a package's on-disk manifest version in-process
// rather than through a build-tool subprocess. TOMLManifestWriter does it
// with a line-level text edit; it does not go through a manifest-parsing
// library.
type ManifestWriter interface {
	SetVersion(path, packageName string, next *semver.Version) error
}

// Controller drives the state machine against a real forge and git
// worktree.
type Controller struct {
	Forge          forge.Forge
	Repo           GitOps
	ManifestWriter ManifestWriter
	FS             afero.Fs
}

// detectExisting lists open PRs whose head branch starts with
// branchPrefix. Zero is fine (nil, nil); exactly one is reused; more than
// one is a hard error.
func (c *Controller) detectExisting(ctx context.Context, branchPrefix string) (*forge.PullRequest, error) {
	prs, err := c.Forge.ListOpenPRs(ctx, branchPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing open release PRs: %w", err)
	}
	switch len(prs) {
	case 0:
		return nil, nil
	case 1:
		return &prs[0], nil
	default:
		return nil, engineerr.New(engineerr.KindGitOperation, branchPrefix,
			fmt.Errorf("found %d open PRs with head branch prefix %q, expected at most one", len(prs), branchPrefix))
	}
}

// branchName returns the existing PR's branch if prior is non-nil,
// otherwise a fingerprint derived from the next-version set.
func branchName(prior *forge.PullRequest, prefix string, plans []PackagePlan) string {
	if prior != nil {
		return prior.HeadBranch
	}
	return prefix + fingerprint(plans)
}

func fingerprint(plans []PackagePlan) string {
	sorted := append([]PackagePlan(nil), plans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, p := range sorted {
		v := ""
		if p.NextVersion != nil {
			v = p.NextVersion.String()
		}
		fmt.Fprintf(h, "%s@%s\n", p.Name, v)
	}
	sum := h.Sum(nil)
	if len(sorted) == 0 {
		// No deterministic input to hash from -- fall back to a random
		// suffix rather than reusing a fixed, collision-prone name.
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	return hex.EncodeToString(sum)[:16]
}

type prTemplateVars struct {
	Unified  bool
	Packages []prPackageVar
}

type prPackageVar struct {
	Name    string
	Version string
}

const defaultPRNameTemplate = `chore(release): {{if .Unified}}{{(index .Packages 0).Version}}{{else}}{{range $i, $p := .Packages}}{{if $i}}, {{end}}{{$p.Name}} v{{$p.Version}}{{end}}{{end}}`

const defaultPRBodyTemplate = `This PR was prepared automatically.

{{range .Packages}}* **{{.Name}}**: {{.Version}}
{{end}}`

func renderTemplate(tmplText string, vars prTemplateVars) (string, error) {
	tmpl, err := template.New("pr").Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parsing PR template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering PR template: %w", err)
	}
	return buf.String(), nil
}

func templateVars(unified bool, plans []PackagePlan) prTemplateVars {
	vars := prTemplateVars{Unified: unified}
	for _, p := range plans {
		v := ""
		if p.NextVersion != nil {
			v = p.NextVersion.String()
		}
		vars.Packages = append(vars.Packages, prPackageVar{Name: p.Name, Version: v})
	}
	return vars
}

// commitSubjects flattens every package's commit subjects for dry-run
// output.
func commitSubjects(plans []PackagePlan) []string {
	var out []string
	for _, p := range plans {
		for _, c := range p.Commits {
			out = append(out, c.Subject)
		}
	}
	return out
}

func releaseCommitMessage(plans []PackagePlan, extra string) string {
	var buf strings.Builder
	buf.WriteString("chore: release\n\n")
	sorted := append([]PackagePlan(nil), plans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, p := range sorted {
		v := ""
		if p.NextVersion != nil {
			v = p.NextVersion.String()
		}
		fmt.Fprintf(&buf, "- %s: v%s\n", p.Name, v)
	}
	if extra != "" {
		buf.WriteString("\n")
		buf.WriteString(extra)
		buf.WriteString("\n")
	}
	return buf.String()
}

// Run drives the full detect/create/update state machine for plans,
// returning the JSON-schema Result, or (nil, nil) if plans is empty (no
// package needs a release).
func (c *Controller) Run(ctx context.Context, opts Options, plans []PackagePlan) (*Result, error) {
	if len(plans) == 0 {
		return nil, nil
	}

	prior, err := c.detectExisting(ctx, opts.BranchPrefix)
	if err != nil {
		return nil, err
	}
	branch := branchName(prior, opts.BranchPrefix, plans)

	if err := c.synthesizeChangelogs(ctx, plans, opts.ChangelogOpts, !opts.DryRun); err != nil {
		return nil, err
	}

	vars := templateVars(opts.Unified, plans)
	titleTmpl := opts.PRNameTemplate
	if titleTmpl == "" {
		titleTmpl = defaultPRNameTemplate
	}
	bodyTmpl := opts.PRBodyTemplate
	if bodyTmpl == "" {
		bodyTmpl = defaultPRBodyTemplate
	}
	title, err := renderTemplate(titleTmpl, vars)
	if err != nil {
		return nil, engineerr.New(engineerr.KindTemplateRender, "pr_name_template", err)
	}
	rendered, err := renderTemplate(bodyTmpl, vars)
	if err != nil {
		return nil, engineerr.New(engineerr.KindTemplateRender, "pr_body_template", err)
	}
	body := changelog.RenderPRBody(rendered, combinedDelta(opts.Unified, plans))

	if opts.DryRun {
		if !opts.Quiet {
			c.printDryRun(title, body, plans)
		}
		return nil, nil
	}

	if err := c.applyContents(ctx, opts, branch, plans); err != nil {
		return nil, err
	}

	pr, err := c.openOrUpdatePR(ctx, prior, opts, branch, title, body)
	if err != nil {
		return nil, err
	}

	if err := c.reconcileLabels(ctx, pr, opts.Labels); err != nil {
		return nil, err
	}

	return toResult(pr, plans), nil
}

func combinedDelta(unified bool, plans []PackagePlan) string {
	var parts []string
	for _, p := range plans {
		if strings.TrimSpace(p.Delta) == "" {
			continue
		}
		if unified {
			// One shared section for the whole workspace; per-package
			// headings would just repeat the same commits.
			parts = append(parts, p.Delta)
		} else {
			parts = append(parts, fmt.Sprintf("### %s\n\n%s", p.Name, p.Delta))
		}
	}
	return strings.Join(parts, "\n\n")
}

// synthesizeChangelogs reads each plan's existing changelog file serially
// (cheap, order-independent I/O), computes every section concurrently via
// changelog.ComputeMany -- the read-only diff-computation step that can run
// across CPU workers because it never touches the worktree -- and then
// writes the results back serially so branch preparation stays ordered.
// With write=false (dry-run) only the deltas are filled in; nothing touches
// the filesystem.
func (c *Controller) synthesizeChangelogs(ctx context.Context, plans []PackagePlan, opts changelog.Options, write bool) error {
	indices := make([]int, 0, len(plans))
	reqs := make([]changelog.Request, 0, len(plans))
	for i, p := range plans {
		if !p.ChangelogUpdateEnabled || p.ChangelogPath == "" {
			continue
		}
		existing, err := afero.ReadFile(c.FS, p.ChangelogPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading changelog %s: %w", p.ChangelogPath, err)
		}
		indices = append(indices, i)
		reqs = append(reqs, changelog.Request{
			Existing:    string(existing),
			NextVersion: p.NextVersion.String(),
			Commits:     p.Commits,
			Options:     opts,
		})
	}

	results, err := changelog.ComputeMany(ctx, reqs)
	if err != nil {
		return fmt.Errorf("synthesizing changelogs: %w", err)
	}

	for j, idx := range indices {
		plans[idx].Delta = results[j].Delta
		if !write {
			continue
		}
		if err := afero.WriteFile(c.FS, plans[idx].ChangelogPath, []byte(results[j].Full), 0o644); err != nil {
			return fmt.Errorf("writing changelog %s: %w", plans[idx].ChangelogPath, err)
		}
	}
	return nil
}

func (c *Controller) printDryRun(title, body string, plans []PackagePlan) {
	fmt.Fprintln(os.Stdout, "# dry-run: release-pr")
	fmt.Fprintln(os.Stdout, "title:", title)
	fmt.Fprintln(os.Stdout, "body:")
	fmt.Fprintln(os.Stdout, body)
	fmt.Fprintln(os.Stdout, "versions:")
	for _, p := range plans {
		fmt.Fprintf(os.Stdout, "  %s -> %s (%s)\n", p.Name, p.NextVersion, p.Bump)
	}
	fmt.Fprintln(os.Stdout, "commits:")
	for _, s := range commitSubjects(plans) {
		fmt.Fprintln(os.Stdout, "  -", s)
	}
}

func (c *Controller) applyContents(ctx context.Context, opts Options, branch string, plans []PackagePlan) error {
	if err := c.Repo.CheckoutNewBranch(ctx, branch, opts.BaseBranch); err != nil {
		return fmt.Errorf("creating release branch %s: %w", branch, err)
	}

	var paths []string
	for _, p := range plans {
		if p.ManifestPath != "" && p.NextVersion != nil {
			if err := c.ManifestWriter.SetVersion(p.ManifestPath, p.Name, p.NextVersion); err != nil {
				return fmt.Errorf("bumping manifest for %s: %w", p.Name, err)
			}
			paths = append(paths, p.ManifestPath)
		}
		if p.ChangelogUpdateEnabled && p.ChangelogPath != "" {
			paths = append(paths, p.ChangelogPath)
		}
	}
	if opts.WorkspaceManifestPath != "" && len(plans) > 0 && plans[0].NextVersion != nil {
		changed, err := SetWorkspaceVersion(opts.WorkspaceManifestPath, plans[0].NextVersion)
		if err != nil {
			return err
		}
		if changed {
			paths = append(paths, opts.WorkspaceManifestPath)
		}
	}
	if opts.LockfilePath != "" {
		versions := make(map[string]string, len(plans))
		for _, p := range plans {
			if p.NextVersion != nil {
				versions[p.Name] = p.NextVersion.String()
			}
		}
		changed, err := UpdateLockfile(opts.LockfilePath, versions)
		if err != nil {
			return err
		}
		if changed {
			paths = append(paths, opts.LockfilePath)
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("release-pr: no manifest or changelog paths to commit")
	}
	if err := c.Repo.Add(ctx, paths...); err != nil {
		return fmt.Errorf("staging release changes: %w", err)
	}
	if err := c.Repo.Commit(ctx, releaseCommitMessage(plans, opts.CommitAuthorMsg)); err != nil {
		return fmt.Errorf("committing release changes: %w", err)
	}

	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}
	if err := c.Repo.Push(ctx, remote, branch, true); err != nil {
		return fmt.Errorf("pushing release branch %s: %w", branch, err)
	}
	return nil
}

func (c *Controller) openOrUpdatePR(ctx context.Context, prior *forge.PullRequest, opts Options, branch, title, body string) (forge.PullRequest, error) {
	if prior != nil {
		t, b := title, body
		if err := c.Forge.EditPR(ctx, prior.Number, forge.PREdit{Title: &t, Body: &b}); err != nil {
			return forge.PullRequest{}, fmt.Errorf("updating release PR #%d: %w", prior.Number, err)
		}
		updated, err := c.Forge.GetPR(ctx, prior.Number)
		if err != nil {
			return forge.PullRequest{}, fmt.Errorf("re-reading updated release PR #%d: %w", prior.Number, err)
		}
		return updated, nil
	}

	base := opts.BaseBranch
	if base == "" {
		base = "main"
	}
	pr, err := c.Forge.OpenPR(ctx, forge.OpenPROptions{Base: base, Head: branch, Title: title, Body: body})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("opening release PR: %w", err)
	}
	return pr, nil
}

func (c *Controller) reconcileLabels(ctx context.Context, pr forge.PullRequest, desired []string) error {
	if len(desired) == 0 {
		return nil
	}
	if forge.RequiresLabelCreation(c.Forge.Dialect()) {
		existing, err := c.Forge.ListRepoLabels(ctx)
		if err != nil {
			return fmt.Errorf("listing repo labels: %w", err)
		}
		have := make(map[string]bool, len(existing))
		for _, l := range existing {
			have[l.Name] = true
		}
		for _, name := range desired {
			if !have[name] {
				if err := c.Forge.CreateLabel(ctx, forge.Label{Name: name}); err != nil {
					return fmt.Errorf("creating label %s: %w", name, err)
				}
			}
		}
	}

	already := make(map[string]bool, len(pr.Labels))
	for _, l := range pr.Labels {
		already[l] = true
	}
	var toAdd []string
	for _, name := range desired {
		if !already[name] {
			toAdd = append(toAdd, name)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}
	if err := c.Forge.AddLabels(ctx, pr.Number, toAdd); err != nil {
		return fmt.Errorf("adding labels to PR #%d: %w", pr.Number, err)
	}
	return nil
}

func toResult(pr forge.PullRequest, plans []PackagePlan) *Result {
	r := &Result{
		BaseBranch: pr.BaseBranch,
		HeadBranch: pr.HeadBranch,
		HTMLURL:    pr.HTMLURL,
		Number:     pr.Number,
	}
	for _, p := range plans {
		v := ""
		if p.NextVersion != nil {
			v = p.NextVersion.String()
		}
		r.Releases = append(r.Releases, ReleaseRef{PackageName: p.Name, Version: v})
	}
	return r
}
