package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/secana/k-releaser/internal/changelog"
	"github.com/secana/k-releaser/internal/config"
	"github.com/secana/k-releaser/internal/conventional"
	"github.com/secana/k-releaser/internal/forge"
	"github.com/secana/k-releaser/internal/forge/dialectb"
	"github.com/secana/k-releaser/internal/forge/dialectc"
	ghforge "github.com/secana/k-releaser/internal/forge/github"
	"github.com/secana/k-releaser/internal/gitrepo"
	"github.com/secana/k-releaser/internal/logging"
	"github.com/secana/k-releaser/internal/releasepr"
	"github.com/secana/k-releaser/internal/secret"
	"github.com/secana/k-releaser/internal/version"
	"github.com/secana/k-releaser/internal/workspace"
)

// engineContext bundles the inputs every subcommand shares: the loaded
// workspace snapshot, merged configuration, an open repository handle, and
// the forge client for the dialect the remote speaks.
type engineContext struct {
	ctx          context.Context
	snapshot     workspace.Snapshot
	cfg          *config.Config
	cliOverrides config.CLIOverrides

	repo   *gitrepo.ExecRepo
	walker *gitrepo.Walker

	owner, repoName string
	forgeImpl       forge.Forge

	token         *secret.Token
	tokenProvided bool

	logger           *slog.Logger
	dryRun           bool
	registryOverride string
}

// newEngineContext loads the workspace, configuration, and git/forge
// handles shared by every mutating subcommand.
func newEngineContext(ctx context.Context) (*engineContext, error) {
	absManifest, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path: %w", err)
	}

	snapshot, err := (workspace.CargoLoader{}).Load(absManifest)
	if err != nil {
		return nil, fmt.Errorf("loading workspace: %w", err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	repo := gitrepo.NewExecRepo(snapshot.RepoRoot)
	walker, err := gitrepo.OpenWalker(snapshot.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", snapshot.RepoRoot, err)
	}

	remoteURL, err := repo.RemoteURL(ctx, "origin")
	if err != nil {
		return nil, fmt.Errorf("reading origin remote: %w", err)
	}
	owner, repoName, err := gitrepo.ParseForgeOwnerRepo(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("parsing forge owner/repo from %s: %w", remoteURL, err)
	}

	tok := secret.NewToken(token)
	f, err := buildForge(ctx, owner, repoName, tok)
	if err != nil {
		return nil, err
	}

	return &engineContext{
		ctx:      ctx,
		snapshot: snapshot,
		cfg:      cfg,
		cliOverrides: config.CLIOverrides{
			DryRun:     dryRun,
			AllowDirty: allowDirty,
			NoVerify:   noVerify,
		},
		repo:             repo,
		walker:           walker,
		owner:            owner,
		repoName:         repoName,
		forgeImpl:        f,
		token:            tok,
		tokenProvided:    tokenSet,
		logger:           logging.New(os.Stderr, verbosity),
		dryRun:           dryRun,
		registryOverride: registryOverride,
	}, nil
}

func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &config.Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return config.Load(data)
}

func buildForge(ctx context.Context, owner, repoName string, tok *secret.Token) (forge.Forge, error) {
	switch forgeDialect {
	case "", "a":
		return ghforge.New(ctx, tok.Value(), owner, repoName), nil
	case "b":
		if forgeBaseURL == "" {
			return nil, fmt.Errorf("--forge-base-url is required for dialect b")
		}
		return dialectb.New(forgeBaseURL, tok.Value(), owner+"/"+repoName), nil
	case "c":
		if forgeBaseURL == "" {
			return nil, fmt.Errorf("--forge-base-url is required for dialect c")
		}
		return dialectc.New(forgeBaseURL, tok.Value(), owner+"/"+repoName), nil
	default:
		return nil, fmt.Errorf("unknown forge dialect %q", forgeDialect)
	}
}

func (e *engineContext) repoURL() string {
	return fmt.Sprintf("https://%s/%s/%s", forgeHost(), e.owner, e.repoName)
}

func forgeHost() string {
	switch forgeDialect {
	case "b", "c":
		if forgeBaseURL != "" {
			return forgeBaseURL
		}
	}
	return "github.com"
}

// plannedPackage is one workspace package's resolved release content: the
// same PackagePlan releasepr/release drive, alongside the merged
// per-package config that produced it.
type plannedPackage struct {
	Workspace workspace.Package
	Config    config.PackageConfig
	Plan      releasepr.PackagePlan
}

// planPackages resolves what each publishable package should release. In
// unified-workspace mode the next version is computed once over all commits
// since the workspace tag and applied to every publishable package; in
// per-package mode each package walks from its own last release tag. Only
// packages that actually need a release (bump != BumpNone) are returned.
func (e *engineContext) planPackages() ([]plannedPackage, error) {
	if e.snapshot.Unified {
		return e.planUnified()
	}
	var out []plannedPackage
	for _, pkg := range e.snapshot.PublishablePackages() {
		pc, err := e.cfg.ForPackage(pkg.Name)
		if err != nil {
			return nil, err
		}
		pc = e.cliOverrides.Apply(pc)

		tagName, err := workspace.TagName(pc.TagNameTemplate, pkg.Name, pkg.Version, e.snapshot.Unified)
		if err != nil {
			return nil, fmt.Errorf("rendering tag name for %s: %w", pkg.Name, err)
		}
		lastSHA, err := e.walker.ResolveTag(tagName)
		if err != nil {
			return nil, fmt.Errorf("resolving last release tag %s: %w", tagName, err)
		}

		maxCommits := 0
		if lastSHA == "" {
			maxCommits = pc.MaxAnalyzeCommitsOr(1000)
		}
		commits, err := e.walker.CommitsSince(lastSHA, maxCommits)
		if err != nil {
			return nil, fmt.Errorf("walking commits for %s: %w", pkg.Name, err)
		}
		filter, err := releaseCommitsFilter(pc.ReleaseCommitsRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling release_commits_regex for %s: %w", pkg.Name, err)
		}
		parsed := gitrepo.ParseCommits(commits, filter)
		e.logger.Debug("collected commits", "package", pkg.Name, "tag", tagName, "count", len(parsed))

		resolver, err := version.NewResolver(version.Rules{
			BreakingAlwaysIncrementMajor: pc.BreakingAlwaysMajorOr(false),
			FeaturesAlwaysIncrementMinor: pc.FeaturesAlwaysMinorOr(false),
			CustomMajorRegex:             pc.CustomMajorRegex,
			CustomMinorRegex:             pc.CustomMinorRegex,
		})
		if err != nil {
			return nil, fmt.Errorf("building version resolver for %s: %w", pkg.Name, err)
		}
		bump, next, err := resolver.Resolve(pkg.Version, parsed)
		if err != nil {
			return nil, fmt.Errorf("resolving next version for %s: %w", pkg.Name, err)
		}
		if bump == version.BumpNone {
			continue
		}

		changelogPath := pc.ChangelogPath
		if changelogPath == "" {
			changelogPath = filepath.Join(pkg.Root, "CHANGELOG.md")
		}

		out = append(out, plannedPackage{
			Workspace: pkg,
			Config:    pc,
			Plan: releasepr.PackagePlan{
				Name:                   pkg.Name,
				CurrentVersion:         pkg.Version,
				NextVersion:            next,
				Bump:                   bump,
				Commits:                toChangelogCommits(parsed),
				ManifestPath:           pkg.ManifestPath,
				ChangelogPath:          changelogPath,
				ChangelogUpdateEnabled: pc.ChangelogUpdateEnabledOr(true),
			},
		})
	}
	return out, nil
}

// planUnified computes the single workspace version bump: one walk from the
// workspace tag over all commits (not path-filtered), one resolution, and
// the result applied to every publishable package. Only the workspace-level
// changelog is written, carried on the first plan; member manifests that
// inherit their version from the root manifest are skipped (the root bump
// covers them).
func (e *engineContext) planUnified() ([]plannedPackage, error) {
	pubs := e.snapshot.PublishablePackages()
	if len(pubs) == 0 {
		return nil, nil
	}

	pc, err := e.cfg.ForPackage("")
	if err != nil {
		return nil, err
	}
	pc = e.cliOverrides.Apply(pc)

	wv := e.snapshot.WorkspaceVersion
	tagName, err := workspace.TagName(pc.TagNameTemplate, "", wv, true)
	if err != nil {
		return nil, fmt.Errorf("rendering workspace tag name: %w", err)
	}
	lastSHA, err := e.walker.ResolveTag(tagName)
	if err != nil {
		return nil, fmt.Errorf("resolving last release tag %s: %w", tagName, err)
	}

	maxCommits := 0
	if lastSHA == "" {
		maxCommits = pc.MaxAnalyzeCommitsOr(1000)
	}
	commits, err := e.walker.CommitsSince(lastSHA, maxCommits)
	if err != nil {
		return nil, fmt.Errorf("walking workspace commits: %w", err)
	}
	filter, err := releaseCommitsFilter(pc.ReleaseCommitsRegex)
	if err != nil {
		return nil, fmt.Errorf("compiling release_commits_regex: %w", err)
	}
	parsed := gitrepo.ParseCommits(commits, filter)
	e.logger.Debug("collected workspace commits", "tag", tagName, "count", len(parsed))

	resolver, err := version.NewResolver(version.Rules{
		BreakingAlwaysIncrementMajor: pc.BreakingAlwaysMajorOr(false),
		FeaturesAlwaysIncrementMinor: pc.FeaturesAlwaysMinorOr(false),
		CustomMajorRegex:             pc.CustomMajorRegex,
		CustomMinorRegex:             pc.CustomMinorRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("building version resolver: %w", err)
	}
	bump, next, err := resolver.Resolve(wv, parsed)
	if err != nil {
		return nil, fmt.Errorf("resolving next workspace version: %w", err)
	}
	if bump == version.BumpNone {
		return nil, nil
	}

	workspaceChangelog := pc.ChangelogPath
	if workspaceChangelog == "" {
		workspaceChangelog = filepath.Join(e.snapshot.RepoRoot, "CHANGELOG.md")
	}

	out := make([]plannedPackage, 0, len(pubs))
	for i, pkg := range pubs {
		plan := releasepr.PackagePlan{
			Name:           pkg.Name,
			CurrentVersion: pkg.Version,
			NextVersion:    next,
			Bump:           bump,
			Commits:        toChangelogCommits(parsed),
		}
		if !pkg.VersionInherited {
			plan.ManifestPath = pkg.ManifestPath
		}
		if i == 0 {
			plan.ChangelogPath = workspaceChangelog
			plan.ChangelogUpdateEnabled = pc.ChangelogUpdateEnabledOr(true)
		}
		out = append(out, plannedPackage{Workspace: pkg, Config: pc, Plan: plan})
	}
	return out, nil
}

// lockfilePath returns the workspace Cargo.lock path if one is committed,
// "" otherwise.
func (e *engineContext) lockfilePath() string {
	p := filepath.Join(e.snapshot.RepoRoot, "Cargo.lock")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func toChangelogCommits(commits []conventional.Commit) []changelog.Commit {
	out := make([]changelog.Commit, len(commits))
	for i, c := range commits {
		out[i] = changelog.Commit{Commit: c}
	}
	return out
}

// releaseCommitsFilter compiles pattern (if non-empty) into a predicate
// over a commit subject; an empty pattern accepts every commit.
func releaseCommitsFilter(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

// changelogOptions builds the changelog.Options common to every synthesis
// call from the workspace's [changelog] configuration section.
func (e *engineContext) changelogOptions() changelog.Options {
	return changelog.Options{
		BodyTemplate:   e.cfg.Changelog.BodyTemplate,
		RepoURL:        e.repoURL(),
		PRLinkTemplate: e.cfg.Changelog.PRLinkTemplate,
	}
}
