package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/secana/k-releaser/internal/notify"
	"github.com/secana/k-releaser/internal/publish"
	"github.com/secana/k-releaser/internal/registry"
	"github.com/secana/k-releaser/internal/workspace"
)

const (
	defaultRegistryName = "crates-io"
	defaultRegistryURL  = "sparse+https://index.crates.io/"
)

var (
	printOrder        bool
	publishRemoteName string
	notifyWebhookURL  string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish already-released packages to a registry",
	Long: `Publish walks publishable packages in dependency order, skips any
already present in its target registry's index, and invokes the build
tool's publish subcommand for the rest. --print-order only prints the
resolved publish order without touching any registry.`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().BoolVar(&printOrder, "print-order", false, "print the resolved publish order and exit")
	publishCmd.Flags().StringVar(&publishRemoteName, "remote", "origin", "git remote packages were tagged against")
	publishCmd.Flags().StringVar(&notifyWebhookURL, "notify-webhook", "", "webhook URL to post a run summary to on completion")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ectx, err := newEngineContext(cmd.Context())
	if err != nil {
		return err
	}

	ordered, err := workspace.ReleaseOrder(ectx.snapshot.PublishablePackages())
	if err != nil {
		return fmt.Errorf("computing publish order: %w", err)
	}

	packages := make([]publish.Package, 0, len(ordered))
	for _, pkg := range ordered {
		pc, err := ectx.cfg.ForPackage(pkg.Name)
		if err != nil {
			return err
		}
		pc = ectx.cliOverrides.Apply(pc)

		tagName, err := workspace.TagName(pc.TagNameTemplate, pkg.Name, pkg.Version, ectx.snapshot.Unified)
		if err != nil {
			return fmt.Errorf("rendering tag name for %s: %w", pkg.Name, err)
		}

		packages = append(packages, publish.Package{
			Name:                      pkg.Name,
			Version:                   pkg.Version,
			Path:                      pkg.Root,
			Tag:                       tagName,
			ManifestPublishRegistries: pkg.PublishRegistries,
			ConfigPublishEnabled:      pc.PublishEnabledOr(false),
			AllowDirty:                pc.AllowDirtyOr(allowDirty),
			NoVerify:                  pc.NoVerifyOr(noVerify),
			Features:                  pc.Features,
			AllFeatures:               pc.AllFeaturesOr(false),
		})
	}

	if printOrder {
		return reportPublishOrder(publish.PrintOrder(packages))
	}

	registries, err := buildRegistries(ectx)
	if err != nil {
		return err
	}

	workspacePC, err := ectx.cfg.ForPackage("")
	if err != nil {
		return err
	}

	controller := &publish.Controller{
		Registries:            registries,
		RegistryOverride:      registryOverride,
		Publisher:             publish.CargoPublisher{},
		Credentials:           publish.EnvCredentials{DefaultRegistryName: defaultRegistryName},
		Trusted:               publish.NewCratesIOTrustedPublisher(),
		ExplicitToken:         ectx.token,
		ExplicitTokenProvided: ectx.tokenProvided,
		CI:                    os.Getenv("GITHUB_ACTIONS") == "true" || os.Getenv("CI") == "true",
		DryRun:                dryRun,
		PublishTimeout:        workspacePC.PublishTimeout.AsDuration(),
		PublishInterval:       workspacePC.PublishPollInterval.AsDuration(),
	}

	result, err := controller.Run(ectx.ctx, packages)
	notifyErr := notify.NotifyRunComplete(notifyWebhookURL, notify.Summary{
		Command: "publish",
		Success: err == nil,
		Detail:  notifyDetail(err),
		Packages: func() []notify.PackageOutcome {
			if result == nil {
				return nil
			}
			out := make([]notify.PackageOutcome, len(result.Published))
			for i, p := range result.Published {
				out[i] = notify.PackageOutcome{Name: p.PackageName, Version: p.Version, Tag: p.Tag}
			}
			return out
		}(),
	})
	if notifyErr != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", notifyErr)
	}
	if err != nil {
		return err
	}
	return reportPublish(result)
}

func notifyDetail(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}

// buildRegistries assembles the registry set the publish controller can
// target: the default crates.io index, optionally wrapped with a fallback
// index when the workspace-level config enables it (per-package settings
// are not consulted).
func buildRegistries(ectx *engineContext) (map[string]publish.RegistryConfig, error) {
	cacheDir := filepath.Join(os.TempDir(), "k-releaser", "registry-index")
	primary, err := registry.New(defaultRegistryURL, cacheDir)
	if err != nil {
		return nil, fmt.Errorf("opening default registry index: %w", err)
	}

	workspacePC, err := ectx.cfg.ForPackage("")
	if err != nil {
		return nil, err
	}

	idx := primary
	if workspacePC.RegistryFallbackEnabledOr(false) {
		fallback, err := registry.New("https://github.com/rust-lang/crates.io-index", filepath.Join(cacheDir, "fallback"))
		if err != nil {
			return nil, fmt.Errorf("opening fallback registry index: %w", err)
		}
		idx = registry.NewFallbackIndex(primary, fallback)
	}

	return map[string]publish.RegistryConfig{
		defaultRegistryName: {
			Name:             defaultRegistryName,
			Index:            idx,
			IsDefaultPublic:  true,
			CredentialEnvVar: "CARGO_REGISTRY_TOKEN",
		},
		"default": {
			Name:             defaultRegistryName,
			Index:            idx,
			IsDefaultPublic:  true,
			CredentialEnvVar: "CARGO_REGISTRY_TOKEN",
		},
	}, nil
}

func reportPublish(result *publish.Result) error {
	if outputJSON {
		published := []publish.PublishedEntry{}
		if result != nil && result.Published != nil {
			published = result.Published
		}
		return json.NewEncoder(os.Stdout).Encode(struct {
			Published []publish.PublishedEntry `json:"published"`
		}{Published: published})
	}
	if result == nil {
		return nil
	}
	for _, p := range result.Published {
		fmt.Fprintf(os.Stderr, "published %s@%s (%s)\n", p.PackageName, p.Version, p.Tag)
	}
	return nil
}

func reportPublishOrder(order []publish.OrderEntry) error {
	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(struct {
			PublishOrder []publish.OrderEntry `json:"publish_order"`
		}{PublishOrder: order})
	}
	for _, o := range order {
		fmt.Fprintf(os.Stderr, "%s (%s)\n", o.Name, o.Path)
	}
	return nil
}
