package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/secana/k-releaser/internal/gitrepo"
	"github.com/secana/k-releaser/internal/releasepr"
)

var (
	releasePRBaseBranch string
	releasePRRemote     string
)

var releasePRCmd = &cobra.Command{
	Use:   "release-pr",
	Short: "Open or update the release pull request",
	Long: `Release-pr performs the same version-resolution and changelog synthesis
as update, but on a throwaway release branch, then opens or updates the
repository's single open release PR. --dry-run prints the PR that would be
opened without pushing anything.`,
	RunE: runReleasePR,
}

func init() {
	rootCmd.AddCommand(releasePRCmd)
	releasePRCmd.Flags().StringVar(&releasePRBaseBranch, "base-branch", "main", "base branch for the release PR")
	releasePRCmd.Flags().StringVar(&releasePRRemote, "remote", "origin", "git remote to push the release branch to")
}

func runReleasePR(cmd *cobra.Command, args []string) error {
	ectx, err := newEngineContext(cmd.Context())
	if err != nil {
		return err
	}

	planned, err := ectx.planPackages()
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		fmt.Fprintln(os.Stderr, "no package needs a release, nothing to do")
		return reportReleasePR(nil)
	}

	plans := make([]releasepr.PackagePlan, len(planned))
	for i, p := range planned {
		plans[i] = p.Plan
	}

	workspacePC, err := ectx.cfg.ForPackage("")
	if err != nil {
		return err
	}
	workspacePC = ectx.cliOverrides.Apply(workspacePC)
	branchPrefix := workspacePC.BranchPrefix
	if branchPrefix == "" {
		branchPrefix = "release-"
	}

	opts := releasepr.Options{
		BranchPrefix:   branchPrefix,
		PRNameTemplate: workspacePC.PRNameTemplate,
		PRBodyTemplate: workspacePC.PRBodyTemplate,
		Labels:         workspacePC.PRLabels,
		Unified:        ectx.snapshot.Unified,
		ChangelogOpts:  ectx.changelogOptions(),
		BaseBranch:     releasePRBaseBranch,
		Remote:         releasePRRemote,
		DryRun:         dryRun,
		Quiet:          outputJSON,
		LockfilePath:   ectx.lockfilePath(),
	}
	if ectx.snapshot.Unified {
		opts.WorkspaceManifestPath = ectx.snapshot.RootManifest
	}

	if !dryRun {
		guard, err := gitrepo.AcquireWorktree(ectx.snapshot.RepoRoot)
		if err != nil {
			return err
		}
		defer guard.Release()
	}

	controller := &releasepr.Controller{
		Forge:          ectx.forgeImpl,
		Repo:           ectx.repo,
		ManifestWriter: releasepr.TOMLManifestWriter{},
		FS:             afero.NewOsFs(),
	}

	result, err := controller.Run(ectx.ctx, opts, plans)
	if err != nil {
		return err
	}
	return reportReleasePR(result)
}

func reportReleasePR(result *releasepr.Result) error {
	if outputJSON {
		prs := []releasepr.Result{}
		if result != nil {
			prs = append(prs, *result)
		}
		return json.NewEncoder(os.Stdout).Encode(struct {
			PRs []releasepr.Result `json:"prs"`
		}{PRs: prs})
	}
	if result == nil {
		return nil
	}
	fmt.Fprintf(os.Stderr, "release PR #%d: %s\n", result.Number, result.HTMLURL)
	for _, r := range result.Releases {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", r.PackageName, r.Version)
	}
	return nil
}
