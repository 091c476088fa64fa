// Package publish implements the publish controller: a topologically
// ordered per-package loop over one or more registries, with published
// checks, build-tool subprocess invocation, stderr-based success detection,
// post-publish settle polling, and trusted-publishing token sharing.
package publish

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/secana/k-releaser/internal/engineerr"
	"github.com/secana/k-releaser/internal/registry"
	"github.com/secana/k-releaser/internal/secret"
)

// Package is one workspace package's publish-relevant fields, already
// resolved by the caller from the workspace snapshot and merged config.
type Package struct {
	Name    string
	Version *semver.Version
	Path    string
	Tag     string

	// ManifestPublishRegistries is the manifest's own publish list
	// (workspace.Package.PublishRegistries); empty means the manifest
	// disables publishing outright.
	ManifestPublishRegistries []string
	// ConfigPublishEnabled is the merged config's publish_enabled flag,
	// used only for the pre-flight inconsistency check: it can
	// never turn ON a publish the manifest disabled.
	ConfigPublishEnabled bool

	AllowDirty  bool
	NoVerify    bool
	Features    []string
	AllFeatures bool
}

// RegistryConfig names a registry the controller can target.
type RegistryConfig struct {
	Name             string
	Index            registry.Index
	IsDefaultPublic  bool
	CredentialEnvVar string
}

// CredentialSource resolves a registry-specific credential, e.g. from an
// environment variable or a credentials file.
type CredentialSource interface {
	Credential(registryName string) (*secret.Token, bool)
}

// TrustedPublisher acquires and revokes a short-lived trusted-publishing
// token, shared across every package in one Run.
type TrustedPublisher interface {
	Acquire(ctx context.Context, registryName string) (*secret.Token, error)
	Revoke(ctx context.Context, token *secret.Token) error
}

// PublishInvocation configures one build-tool publish subprocess call.
type PublishInvocation struct {
	PackagePath string
	Registry    string
	Token       *secret.Token
	AllowDirty  bool
	NoVerify    bool
	Features    []string
	AllFeatures bool
	DryRun      bool
}

// PublishOutcome is the subprocess's result: its stderr text (the only
// surface the success contract inspects) and its exit code.
type PublishOutcome struct {
	Stderr   string
	ExitCode int
}

// Publisher invokes the build tool's publish subcommand.
type Publisher interface {
	Publish(ctx context.Context, inv PublishInvocation) (PublishOutcome, error)
}

// PublishedEntry is one successfully published package in the `publish`
// JSON output schema.
type PublishedEntry struct {
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
	Tag         string `json:"tag"`
}

// Result is the full `publish` JSON output shape.
type Result struct {
	Published []PublishedEntry `json:"published"`
}

// OrderEntry is one package in release order, matching the
// `publish --print-order` JSON output schema.
type OrderEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// PrintOrder renders packages (already in release order) into the
// `--print-order` JSON shape without touching any registry.
func PrintOrder(packages []Package) []OrderEntry {
	out := make([]OrderEntry, 0, len(packages))
	for _, p := range packages {
		out = append(out, OrderEntry{Name: p.Name, Path: p.Path})
	}
	return out
}

// Controller drives the publish loop.
type Controller struct {
	Registries       map[string]RegistryConfig
	RegistryOverride string
	Publisher        Publisher
	Credentials      CredentialSource
	Trusted          TrustedPublisher

	// ExplicitToken/ExplicitTokenProvided distinguish "--token was not
	// passed at all" from "--token '' was passed explicitly" -- the CI
	// empty-token guard only fires in the latter case.
	ExplicitToken         *secret.Token
	ExplicitTokenProvided bool

	CI             bool
	DryRun         bool
	PublishTimeout  time.Duration
	PublishInterval time.Duration

	trustedToken *secret.Token
}

// Run executes the publish loop over packages, which must already be in
// release order (internal/workspace.ReleaseOrder).
func (c *Controller) Run(ctx context.Context, packages []Package) (*Result, error) {
	if err := c.preflight(packages); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, p := range packages {
		names := resolveRegistries(p.ManifestPublishRegistries, c.RegistryOverride)
		for _, name := range names {
			published, err := c.publishOne(ctx, p, name)
			if err != nil {
				return nil, err
			}
			if published {
				result.Published = append(result.Published, PublishedEntry{
					PackageName: p.Name,
					Version:     p.Version.String(),
					Tag:         p.Tag,
				})
			}
		}
	}

	c.revokeTrustedToken(ctx)
	return result, nil
}

// preflight fails fast if any package's manifest disables publishing
// (empty registry list) while the k-releaser config tries to force it on.
// It is the one check that must run before any registry is touched.
func (c *Controller) preflight(packages []Package) error {
	for _, p := range packages {
		if len(p.ManifestPublishRegistries) == 0 && p.ConfigPublishEnabled {
			return engineerr.New(engineerr.KindPublishConflict, p.Name,
				fmt.Errorf("package %s has publish_enabled=true in config but its manifest publish list is empty; config cannot enable publishing a manifest disables", p.Name))
		}
	}
	return nil
}

// resolveRegistries computes the registry set to target: the
// intersection of the manifest's publish list with an optional CLI
// override. If override is empty, the full manifest list applies; if the
// manifest list is also empty, the single default registry is assumed.
func resolveRegistries(manifestList []string, override string) []string {
	if override == "" {
		if len(manifestList) == 0 {
			return []string{"default"}
		}
		return manifestList
	}
	if len(manifestList) == 0 {
		return []string{override}
	}
	for _, name := range manifestList {
		if name == override {
			return []string{override}
		}
	}
	return nil
}

func (c *Controller) publishOne(ctx context.Context, p Package, registryName string) (bool, error) {
	reg, ok := c.Registries[registryName]
	if !ok {
		return false, fmt.Errorf("package %s: unknown registry %q", p.Name, registryName)
	}

	already, err := reg.Index.Contains(ctx, p.Name, p.Version.String())
	if err != nil {
		return false, engineerr.New(engineerr.KindRegistryIndex, p.Name, err)
	}
	if already {
		c.log("%s@%s already published to %s, skipping", p.Name, p.Version, registryName)
		return false, nil
	}

	if c.DryRun {
		c.log("would publish %s@%s to %s", p.Name, p.Version, registryName)
		return false, nil
	}

	token, err := c.tokenFor(ctx, reg)
	if err != nil {
		return false, err
	}

	outcome, runErr := c.Publisher.Publish(ctx, PublishInvocation{
		PackagePath: p.Path,
		Registry:    registryName,
		Token:       token,
		AllowDirty:  p.AllowDirty,
		NoVerify:    p.NoVerify,
		Features:    p.Features,
		AllFeatures: p.AllFeatures,
	})
	raced, pubErr := classifyPublish(outcome, runErr)
	if pubErr != nil {
		return false, engineerr.New(engineerr.KindPublishSubprocess, p.Name, pubErr)
	}
	if raced {
		c.log("%s@%s raced another publisher, treating as already published", p.Name, p.Version)
		return false, nil
	}

	timeout := c.PublishTimeout
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	if err := registry.Wait(ctx, reg.Index, p.Name, p.Version.String(), registry.WaitOptions{Timeout: timeout, Interval: c.PublishInterval}); err != nil {
		return false, err
	}
	return true, nil
}

// classifyPublish applies the stderr-content success contract: a
// missing "Uploading" line, an "error:" line, or a non-zero exit status is
// a failure, unless stderr reports the package version is already
// uploaded, in which case this is a race with another publisher rather
// than a failure.
func classifyPublish(outcome PublishOutcome, runErr error) (raced bool, err error) {
	if strings.Contains(outcome.Stderr, "is already uploaded") {
		return true, nil
	}
	if runErr != nil {
		return false, fmt.Errorf("publish subprocess error: %w (stderr: %s)", runErr, outcome.Stderr)
	}
	if outcome.ExitCode != 0 {
		return false, fmt.Errorf("publish subprocess exited %d: %s", outcome.ExitCode, outcome.Stderr)
	}
	if strings.Contains(outcome.Stderr, "error:") {
		return false, fmt.Errorf("publish subprocess reported an error: %s", outcome.Stderr)
	}
	if !strings.Contains(outcome.Stderr, "Uploading") {
		return false, fmt.Errorf("publish subprocess produced no Uploading line: %s", outcome.Stderr)
	}
	return false, nil
}

// tokenFor resolves the credential to pass to the publish subprocess:
// explicit --token first, then a registry-scoped credential, then trusted
// publishing when targeting the default public registry from CI.
func (c *Controller) tokenFor(ctx context.Context, reg RegistryConfig) (*secret.Token, error) {
	if c.ExplicitTokenProvided {
		if c.ExplicitToken.Empty() {
			if c.CI && reg.IsDefaultPublic {
				return nil, engineerr.New(engineerr.KindPublishConflict, reg.Name,
					fmt.Errorf("--token was explicitly set empty while running in CI against the default registry; this is a configuration error, not a request for trusted publishing"))
			}
			return nil, nil
		}
		return c.ExplicitToken, nil
	}

	if c.Credentials != nil {
		if cred, ok := c.Credentials.Credential(reg.Name); ok {
			return cred, nil
		}
	}

	if reg.IsDefaultPublic && c.CI && !c.DryRun && c.Trusted != nil {
		if c.trustedToken == nil {
			tok, err := c.Trusted.Acquire(ctx, reg.Name)
			if err != nil {
				return nil, fmt.Errorf("acquiring trusted-publishing token for %s: %w", reg.Name, err)
			}
			c.trustedToken = tok
		}
		return c.trustedToken, nil
	}

	return nil, nil
}

// revokeTrustedToken revokes any acquired trusted-publishing token,
// best-effort: revocation failures are logged, never fatal.
func (c *Controller) revokeTrustedToken(ctx context.Context) {
	if c.trustedToken == nil {
		return
	}
	if c.Trusted != nil {
		if err := c.Trusted.Revoke(ctx, c.trustedToken); err != nil {
			c.log("failed to revoke trusted-publishing token: %v", err)
		}
	}
	c.trustedToken.Zero()
	c.trustedToken = nil
}

func (c *Controller) log(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
