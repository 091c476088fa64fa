package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/secana/k-releaser/internal/changelog"
	"github.com/secana/k-releaser/internal/gitrepo"
	"github.com/secana/k-releaser/internal/releasepr"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Compute next versions and rewrite manifests and changelogs",
	Long: `Update walks each publishable package's commit history since its last
release tag, resolves the next version, and rewrites its manifest and
changelog in place. It never talks to the forge.`,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

type updateEntry struct {
	PackageName string `json:"package_name"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Bump        string `json:"bump"`
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ectx, err := newEngineContext(cmd.Context())
	if err != nil {
		return err
	}

	planned, err := ectx.planPackages()
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(struct {
				Updated []updateEntry `json:"updated"`
			}{Updated: []updateEntry{}})
		}
		fmt.Fprintln(os.Stderr, "no package needs a release")
		return nil
	}

	plans := make([]releasepr.PackagePlan, len(planned))
	for i, p := range planned {
		plans[i] = p.Plan
	}
	reqs := make([]changelog.Request, 0, len(plans))
	indices := make([]int, 0, len(plans))
	for i, p := range plans {
		if !p.ChangelogUpdateEnabled || p.ChangelogPath == "" {
			continue
		}
		existing, readErr := os.ReadFile(p.ChangelogPath)
		if readErr != nil && !os.IsNotExist(readErr) {
			return fmt.Errorf("reading changelog %s: %w", p.ChangelogPath, readErr)
		}
		indices = append(indices, i)
		reqs = append(reqs, changelog.Request{
			Existing:    string(existing),
			NextVersion: p.NextVersion.String(),
			Commits:     p.Commits,
			Options:     ectx.changelogOptions(),
		})
	}
	computed, err := changelog.ComputeMany(ectx.ctx, reqs)
	if err != nil {
		return fmt.Errorf("synthesizing changelogs: %w", err)
	}
	for j, idx := range indices {
		plans[idx].Delta = computed[j].Delta
	}

	entries := make([]updateEntry, len(planned))
	for i, p := range planned {
		entries[i] = updateEntry{
			PackageName: p.Workspace.Name,
			FromVersion: p.Plan.CurrentVersion.String(),
			ToVersion:   p.Plan.NextVersion.String(),
			Bump:        p.Plan.Bump.String(),
		}
	}

	if dryRun {
		return reportUpdate(entries)
	}

	guard, err := gitrepo.AcquireWorktree(ectx.snapshot.RepoRoot)
	if err != nil {
		return err
	}
	defer guard.Release()

	writer := releasepr.TOMLManifestWriter{}
	for _, p := range planned {
		if p.Plan.ManifestPath != "" {
			if err := writer.SetVersion(p.Plan.ManifestPath, p.Plan.Name, p.Plan.NextVersion); err != nil {
				return fmt.Errorf("bumping manifest for %s: %w", p.Plan.Name, err)
			}
		}
	}
	if ectx.snapshot.Unified {
		if _, err := releasepr.SetWorkspaceVersion(ectx.snapshot.RootManifest, planned[0].Plan.NextVersion); err != nil {
			return err
		}
		if lock := ectx.lockfilePath(); lock != "" {
			versions := make(map[string]string, len(planned))
			for _, p := range planned {
				versions[p.Plan.Name] = p.Plan.NextVersion.String()
			}
			if _, err := releasepr.UpdateLockfile(lock, versions); err != nil {
				return err
			}
		}
	}
	for j, idx := range indices {
		if err := os.WriteFile(plans[idx].ChangelogPath, []byte(computed[j].Full), 0o644); err != nil {
			return fmt.Errorf("writing changelog %s: %w", plans[idx].ChangelogPath, err)
		}
	}

	return reportUpdate(entries)
}

func reportUpdate(entries []updateEntry) error {
	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Updated []updateEntry `json:"updated"`
		}{Updated: entries})
	}
	for _, e := range entries {
		fmt.Fprintf(os.Stderr, "%s: %s -> %s (%s)\n", e.PackageName, e.FromVersion, e.ToVersion, e.Bump)
	}
	return nil
}
