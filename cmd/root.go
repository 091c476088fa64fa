// Package cmd implements the CLI surface: update, release-pr, publish,
// and release, plus config show. Diagnostics go to stderr; stdout is
// reserved for --output json payloads.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	manifestPath     string
	configPath       string
	dryRun           bool
	token            string
	tokenSet         bool
	registryOverride string
	allowDirty       bool
	noVerify         bool
	outputFormat     string
	outputJSON       bool
	verbosity        int

	forgeDialect string
	forgeBaseURL string
)

var rootCmd = &cobra.Command{
	Use:   "k-releaser",
	Short: "Release automation for versioned package workspaces",
	Long: `k-releaser computes next versions from conventional commits, synthesizes
changelogs, opens and updates a release PR, tags and creates forge releases,
and publishes packages to a registry -- each step its own subcommand so it
can be wired into CI as discrete, idempotent jobs.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest-path", "Cargo.toml", "path to the workspace manifest")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "release.toml", "path to the release configuration file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report what would be done without performing actions")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "forge/registry token (overrides environment credentials)")
	rootCmd.PersistentFlags().StringVar(&registryOverride, "registry", "", "restrict publishing/lookup to a single named registry")
	rootCmd.PersistentFlags().BoolVar(&allowDirty, "allow-dirty", false, "allow publishing from a dirty working tree")
	rootCmd.PersistentFlags().BoolVar(&noVerify, "no-verify", false, "skip the build tool's pre-publish verification")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "human", "output format: human or json (json is emitted on stdout only)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv, -vvv)")
	rootCmd.PersistentFlags().StringVar(&forgeDialect, "forge-dialect", "a", "forge dialect: a (GitHub-shaped), b, or c")
	rootCmd.PersistentFlags().StringVar(&forgeBaseURL, "forge-base-url", "", "base URL for dialect b/c forges (ignored for dialect a)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		tokenSet = cmd.Flags().Changed("token")
		switch outputFormat {
		case "human", "":
			outputJSON = false
		case "json":
			outputJSON = true
		default:
			return fmt.Errorf("unknown output format %q (expected human or json)", outputFormat)
		}
		return nil
	}
}

// Execute runs the root command, exiting the process with a non-zero code
// on any fatal error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
