// Package config loads and merges the release configuration: a fixed TOML
// section at the workspace level plus optional per-package overrides.
// Unknown fields are a hard parse error; workspace defaults and per-package
// settings merge with package-field precedence.
package config

import (
	"bytes"
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// ReleaseType selects how the prerelease flag on a forge release is
// derived: always-prod, always-pre, or auto from the version itself.
type ReleaseType string

const (
	ReleaseTypeProd ReleaseType = "prod"
	ReleaseTypePre  ReleaseType = "pre"
	ReleaseTypeAuto ReleaseType = "auto"
)

// Duration wraps time.Duration so TOML values like "30m", "45s", or a bare
// integer (seconds) all decode the same way.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	parsed, err := str2duration.ParseDuration(s)
	if err != nil {
		// bare integers are seconds
		var secs int64
		if _, scanErr := fmt.Sscanf(s, "%d", &secs); scanErr == nil {
			*d = Duration(time.Duration(secs) * time.Second)
			return nil
		}
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// PackageConfig is the per-package release configuration, mergeable
// against the workspace-level defaults.
type PackageConfig struct {
	PublishEnabled          *bool       `toml:"publish_enabled"`
	TagEnabled              *bool       `toml:"tag_enabled"`
	ReleaseEnabled          *bool       `toml:"release_enabled"`
	TagNameTemplate         string      `toml:"tag_name_template"`
	ReleaseNameTemplate     string      `toml:"release_name_template"`
	ReleaseBodyTemplate     string      `toml:"release_body_template"`
	Draft                   *bool       `toml:"draft"`
	Latest                  *bool       `toml:"latest"`
	ReleaseType             ReleaseType `toml:"release_type"`
	NoVerify                *bool       `toml:"no_verify"`
	AllowDirty              *bool       `toml:"allow_dirty"`
	Features                []string    `toml:"features"`
	AllFeatures             *bool       `toml:"all_features"`
	ChangelogPath           string      `toml:"changelog_path"`
	ChangelogUpdateEnabled  *bool       `toml:"changelog_update_enabled"`
	ChangelogInclude        []string    `toml:"changelog_include"`
	ReleaseAlways           *bool       `toml:"release_always"`
	BranchPrefix            string      `toml:"branch_prefix"`
	PRNameTemplate          string      `toml:"pr_name_template"`
	PRBodyTemplate          string      `toml:"pr_body_template"`
	PRLabels                []string    `toml:"pr_labels"`
	ReleaseCommitsRegex     string      `toml:"release_commits_regex"`
	MaxAnalyzeCommits       *int        `toml:"max_analyze_commits"`
	BreakingAlwaysMajor     *bool       `toml:"breaking_always_increment_major"`
	FeaturesAlwaysMinor     *bool       `toml:"features_always_increment_minor"`
	CustomMajorRegex        string      `toml:"custom_major_regex"`
	CustomMinorRegex        string      `toml:"custom_minor_regex"`
	PublishTimeout          Duration    `toml:"publish_timeout"`
	PublishPollInterval     Duration    `toml:"publish_poll_interval"`
	RegistryFallbackEnabled *bool       `toml:"registry_fallback_enabled"`
}

// ChangelogConfig is the `[changelog]` section: the delta (section body)
// template and the PR-link template. The `header` key is accepted into
// HeaderTemplate, but nothing reads it: a changelog file created from
// scratch starts directly with its first version section.
type ChangelogConfig struct {
	HeaderTemplate string `toml:"header"`
	BodyTemplate   string `toml:"body"`
	PRLinkTemplate string `toml:"pr_link"`
}

// Config is the full fixed-section TOML document: workspace defaults, the
// changelog section, and per-package overrides.
type Config struct {
	Workspace PackageConfig              `toml:"workspace"`
	Changelog ChangelogConfig            `toml:"changelog"`
	Package   []PackageConfigWithName    `toml:"package"`
	overrides map[string]*PackageConfig
}

// PackageConfigWithName is one [[package]] table entry.
type PackageConfigWithName struct {
	Name string `toml:"name"`
	PackageConfig
}

// Load parses raw TOML bytes, rejecting unknown fields.
func Load(data []byte) (*Config, error) {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing release configuration: %w", err)
	}
	cfg.overrides = make(map[string]*PackageConfig, len(cfg.Package))
	for i := range cfg.Package {
		p := cfg.Package[i]
		cfg.overrides[p.Name] = &p.PackageConfig
	}
	return &cfg, nil
}

// Overrides reports which package names carry explicit per-package
// configuration.
func (c *Config) Overrides() map[string]*PackageConfig {
	return c.overrides
}

// ForPackage merges the workspace defaults into the package's own config,
// with package-field precedence: any field already set at the package level
// wins; zero-valued fields are filled from the workspace default. This uses
// dario.cat/mergo, which only overwrites destination zero values, giving
// exactly that precedence when the package config is the destination.
func (c *Config) ForPackage(name string) (PackageConfig, error) {
	merged := PackageConfig{}
	if pkg, ok := c.overrides[name]; ok {
		merged = *pkg
	}
	if err := mergo.Merge(&merged, c.Workspace); err != nil {
		return PackageConfig{}, fmt.Errorf("merging config for package %s: %w", name, err)
	}
	return merged, nil
}

// CLIOverrides carries flags that force specific config fields regardless of
// file contents.
type CLIOverrides struct {
	DryRun               bool
	AllowDirty           bool
	NoVerify             bool
	DisableChangelogEdit bool
}

// Apply overlays CLI-forced fields on top of a merged package config.
func (o CLIOverrides) Apply(pc PackageConfig) PackageConfig {
	if o.AllowDirty {
		t := true
		pc.AllowDirty = &t
	}
	if o.NoVerify {
		t := true
		pc.NoVerify = &t
	}
	if o.DisableChangelogEdit {
		f := false
		pc.ChangelogUpdateEnabled = &f
	}
	return pc
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// PublishEnabledOr returns the effective publish_enabled with a default.
func (pc PackageConfig) PublishEnabledOr(def bool) bool { return boolOr(pc.PublishEnabled, def) }

// TagEnabledOr returns the effective tag_enabled with a default.
func (pc PackageConfig) TagEnabledOr(def bool) bool { return boolOr(pc.TagEnabled, def) }

// ReleaseEnabledOr returns the effective release_enabled with a default.
func (pc PackageConfig) ReleaseEnabledOr(def bool) bool { return boolOr(pc.ReleaseEnabled, def) }

// ChangelogUpdateEnabledOr returns the effective changelog_update_enabled.
func (pc PackageConfig) ChangelogUpdateEnabledOr(def bool) bool {
	return boolOr(pc.ChangelogUpdateEnabled, def)
}

// DraftOr returns the effective draft flag.
func (pc PackageConfig) DraftOr(def bool) bool { return boolOr(pc.Draft, def) }

// LatestOr returns the effective latest flag.
func (pc PackageConfig) LatestOr(def bool) bool { return boolOr(pc.Latest, def) }

// AllowDirtyOr returns the effective allow_dirty flag.
func (pc PackageConfig) AllowDirtyOr(def bool) bool { return boolOr(pc.AllowDirty, def) }

// NoVerifyOr returns the effective no_verify flag.
func (pc PackageConfig) NoVerifyOr(def bool) bool { return boolOr(pc.NoVerify, def) }

// AllFeaturesOr returns the effective all_features flag.
func (pc PackageConfig) AllFeaturesOr(def bool) bool { return boolOr(pc.AllFeatures, def) }

// ReleaseAlwaysOr returns the effective release_always flag.
func (pc PackageConfig) ReleaseAlwaysOr(def bool) bool { return boolOr(pc.ReleaseAlways, def) }

// BreakingAlwaysMajorOr returns the effective breaking_always_increment_major flag.
func (pc PackageConfig) BreakingAlwaysMajorOr(def bool) bool {
	return boolOr(pc.BreakingAlwaysMajor, def)
}

// FeaturesAlwaysMinorOr returns the effective features_always_increment_minor flag.
func (pc PackageConfig) FeaturesAlwaysMinorOr(def bool) bool {
	return boolOr(pc.FeaturesAlwaysMinor, def)
}

// MaxAnalyzeCommitsOr returns the effective max_analyze_commits bound used
// when no last-release tag exists; 0 means unlimited.
func (pc PackageConfig) MaxAnalyzeCommitsOr(def int) int {
	if pc.MaxAnalyzeCommits == nil {
		return def
	}
	return *pc.MaxAnalyzeCommits
}

// RegistryFallbackEnabledOr returns the effective registry_fallback_enabled flag.
func (pc PackageConfig) RegistryFallbackEnabledOr(def bool) bool {
	return boolOr(pc.RegistryFallbackEnabled, def)
}
