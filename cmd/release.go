package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/secana/k-releaser/internal/changelog"
	"github.com/secana/k-releaser/internal/forge"
	"github.com/secana/k-releaser/internal/gitrepo"
	"github.com/secana/k-releaser/internal/releasectl"
	"github.com/secana/k-releaser/internal/workspace"
)

var (
	releaseRemoteName string
	releaseAlways     bool
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Tag and create forge releases for already-bumped packages",
	Long: `Release decides whether the current commit warrants a release (it was
produced by merging a release PR, or --release-always is set), then tags
and creates a forge release for every publishable package whose tag does
not already exist remotely. It never publishes to a package registry.`,
	RunE: runRelease,
}

func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.Flags().StringVar(&releaseRemoteName, "remote", "origin", "git remote to fetch tags from and push tags to")
	releaseCmd.Flags().BoolVar(&releaseAlways, "release-always", false, "release the current commit even if it wasn't produced by merging a release PR")
}

func runRelease(cmd *cobra.Command, args []string) error {
	ectx, err := newEngineContext(cmd.Context())
	if err != nil {
		return err
	}

	workspacePC, err := ectx.cfg.ForPackage("")
	if err != nil {
		return err
	}
	branchPrefix := workspacePC.BranchPrefix
	if branchPrefix == "" {
		branchPrefix = "release-"
	}

	currentSHA, err := ectx.repo.RevParse(ectx.ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}

	verdict, err := releasectl.ShouldRelease(ectx.ctx, ectx.forgeImpl, ectx.walker, currentSHA, branchPrefix, releaseAlways || workspacePC.ReleaseAlwaysOr(false))
	if err != nil {
		return err
	}
	if verdict.Decision == releasectl.DecisionNo {
		fmt.Fprintln(os.Stderr, "current commit was not produced by a release PR merge, nothing to release")
		return reportRelease(nil)
	}

	prNumbers, err := associatedPRNumbers(ectx, currentSHA, branchPrefix)
	if err != nil {
		return err
	}

	// When no on-disk changelog is available for a package, release notes
	// are recovered from the release PR's body instead.
	prBodyEntry := ""
	if len(prNumbers) > 0 {
		if pr, prErr := ectx.forgeImpl.GetPR(ectx.ctx, prNumbers[0]); prErr == nil {
			prBodyEntry = changelog.ExtractChangelogFromPRBody(pr.Body)
		}
	}

	var packages []releasectl.PackageRelease
	if ectx.snapshot.Unified {
		pc := workspacePC
		wv := ectx.snapshot.WorkspaceVersion
		tagName, err := workspace.TagName(pc.TagNameTemplate, "", wv, true)
		if err != nil {
			return fmt.Errorf("rendering workspace tag name: %w", err)
		}
		releaseName, err := workspace.ReleaseName(pc.ReleaseNameTemplate, "", wv, true)
		if err != nil {
			return fmt.Errorf("rendering workspace release name: %w", err)
		}
		entry := readLastChangelogEntry(pc.ChangelogPath, ectx.snapshot.RepoRoot)
		if entry == "" {
			entry = prBodyEntry
		}
		packages = append(packages, releasectl.PackageRelease{
			Name:                ectx.repoName,
			Version:             wv,
			Unified:             true,
			TagName:             tagName,
			ReleaseName:         releaseName,
			ReleaseBodyTemplate: pc.ReleaseBodyTemplate,
			ReleaseType:         pc.ReleaseType,
			Draft:               pc.DraftOr(false),
			Latest:              pc.Latest,
			TagEnabled:          pc.TagEnabledOr(true),
			ReleaseEnabled:      pc.ReleaseEnabledOr(true),
			ChangelogEntry:      entry,
			AssociatedPRNumbers: prNumbers,
		})
		return runReleaseLoop(ectx, verdict, packages)
	}

	ordered, err := workspace.ReleaseOrder(ectx.snapshot.PublishablePackages())
	if err != nil {
		return fmt.Errorf("computing release order: %w", err)
	}
	for _, pkg := range ordered {
		pc, err := ectx.cfg.ForPackage(pkg.Name)
		if err != nil {
			return err
		}
		tagName, err := workspace.TagName(pc.TagNameTemplate, pkg.Name, pkg.Version, ectx.snapshot.Unified)
		if err != nil {
			return fmt.Errorf("rendering tag name for %s: %w", pkg.Name, err)
		}
		releaseName, err := workspace.ReleaseName(pc.ReleaseNameTemplate, pkg.Name, pkg.Version, ectx.snapshot.Unified)
		if err != nil {
			return fmt.Errorf("rendering release name for %s: %w", pkg.Name, err)
		}
		entry := readLastChangelogEntry(pc.ChangelogPath, pkg.Root)
		if entry == "" {
			entry = prBodyEntry
		}
		packages = append(packages, releasectl.PackageRelease{
			Name:                pkg.Name,
			Version:             pkg.Version,
			Unified:             ectx.snapshot.Unified,
			TagName:             tagName,
			ReleaseName:         releaseName,
			ReleaseBodyTemplate: pc.ReleaseBodyTemplate,
			ReleaseType:         pc.ReleaseType,
			Draft:               pc.DraftOr(false),
			Latest:              pc.Latest,
			TagEnabled:          pc.TagEnabledOr(true),
			ReleaseEnabled:      pc.ReleaseEnabledOr(true),
			ChangelogEntry:      entry,
			AssociatedPRNumbers: prNumbers,
		})
	}

	return runReleaseLoop(ectx, verdict, packages)
}

func runReleaseLoop(ectx *engineContext, verdict releasectl.Verdict, packages []releasectl.PackageRelease) error {
	if !dryRun {
		guard, err := gitrepo.AcquireWorktree(ectx.snapshot.RepoRoot)
		if err != nil {
			return err
		}
		defer guard.Release()
	}

	controller := &releasectl.Controller{
		Forge:  ectx.forgeImpl,
		Git:    ectx.repo,
		Tags:   ectx.walker,
		Remote: releaseRemoteName,
		DryRun: dryRun,
	}
	result, err := controller.Run(ectx.ctx, verdict, packages)
	if err != nil {
		return err
	}
	return reportRelease(result)
}

// associatedPRNumbers re-derives the PR numbers ShouldRelease consulted,
// for the contributor-collection step of the release loop.
func associatedPRNumbers(ectx *engineContext, currentSHA, branchPrefix string) ([]int, error) {
	prs, err := ectx.forgeImpl.AssociatedPRs(ectx.ctx, currentSHA)
	if err != nil && !errors.Is(err, forge.ErrNotFound) {
		return nil, fmt.Errorf("looking up PRs associated with %s: %w", currentSHA, err)
	}
	var out []int
	for _, pr := range prs {
		if strings.HasPrefix(pr.HeadBranch, branchPrefix) {
			out = append(out, pr.Number)
		}
	}
	return out, nil
}

func readLastChangelogEntry(changelogPath, pkgRoot string) string {
	if changelogPath == "" {
		changelogPath = pkgRoot + "/CHANGELOG.md"
	}
	data, err := os.ReadFile(changelogPath)
	if err != nil {
		return ""
	}
	entry, err := changelog.ExtractLastEntry(string(data))
	if err != nil {
		return ""
	}
	return entry
}

func reportRelease(result *releasectl.Result) error {
	if outputJSON {
		entries := []releasectl.ReleaseEntry{}
		if result != nil && result.Releases != nil {
			entries = result.Releases
		}
		return json.NewEncoder(os.Stdout).Encode(struct {
			Releases []releasectl.ReleaseEntry `json:"releases"`
		}{Releases: entries})
	}
	if result == nil {
		return nil
	}
	for _, r := range result.Releases {
		fmt.Fprintf(os.Stderr, "%s: %s (%s)\n", r.PackageName, r.Version, r.Tag)
	}
	return nil
}
