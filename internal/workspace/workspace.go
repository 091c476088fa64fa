// Package workspace models the enumerated set of packages in a workspace
// snapshot: publishable-set computation, dependency-ordered release order,
// and tag/release name template rendering.
package workspace

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/Masterminds/semver/v3"
)

// Package is one workspace member, as read from the build tool's
// manifest. The rest of the engine consumes only this struct, never the
// manifest format itself.
type Package struct {
	Name         string
	Version      *semver.Version
	Root         string
	ManifestPath string
	// PublishRegistries lists the registries the manifest's own publish list
	// names; an empty slice means "publishing is disabled by the manifest."
	PublishRegistries []string
	Dependencies      []string // other workspace package names
	// VersionInherited marks a member whose manifest declares
	// version.workspace = true; its version lives in the root manifest's
	// [workspace.package] table, so a version bump edits the root manifest
	// rather than the member's.
	VersionInherited bool
}

// Publishable reports whether the manifest itself allows publishing this
// package, independent of any k-releaser config flag.
func (p Package) Publishable() bool {
	return len(p.PublishRegistries) > 0
}

// Snapshot is the full, immutable-for-the-command workspace view.
type Snapshot struct {
	Packages []Package
	// Unified reports whether all publishable packages share one version,
	// selecting unified-workspace mode.
	Unified bool
	// WorkspaceVersion is the shared version when Unified is true.
	WorkspaceVersion *semver.Version
	RepoRoot         string
	// RootManifest is the path to the workspace root manifest file.
	RootManifest string
}

// ByName returns the package with the given name, or false.
func (s Snapshot) ByName(name string) (Package, bool) {
	for _, p := range s.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// PublishablePackages returns the subset of Packages with Publishable() true.
func (s Snapshot) PublishablePackages() []Package {
	out := make([]Package, 0, len(s.Packages))
	for _, p := range s.Packages {
		if p.Publishable() {
			out = append(out, p)
		}
	}
	return out
}

// DetectUnified reports whether every publishable package shares the same
// version, which is how unified-workspace mode is selected.
func DetectUnified(pkgs []Package) (bool, *semver.Version) {
	publishable := make([]Package, 0, len(pkgs))
	for _, p := range pkgs {
		if p.Publishable() {
			publishable = append(publishable, p)
		}
	}
	if len(publishable) == 0 {
		return false, nil
	}
	first := publishable[0].Version
	for _, p := range publishable[1:] {
		if !p.Version.Equal(first) {
			return false, nil
		}
	}
	return true, first
}

// ReleaseOrder topologically sorts packages so dependencies precede
// dependents, breaking ties by name ascending. It
// returns an error if the dependency graph (restricted to workspace
// members) contains a cycle, a fatal workspace-integrity error.
func ReleaseOrder(pkgs []Package) ([]Package, error) {
	byName := make(map[string]Package, len(pkgs))
	indegree := make(map[string]int, len(pkgs))
	dependents := make(map[string][]string, len(pkgs))

	for _, p := range pkgs {
		byName[p.Name] = p
		if _, ok := indegree[p.Name]; !ok {
			indegree[p.Name] = 0
		}
	}
	for _, p := range pkgs {
		for _, dep := range p.Dependencies {
			if _, ok := byName[dep]; !ok {
				continue // dependency outside the workspace, ignored for ordering
			}
			indegree[p.Name]++
			dependents[dep] = append(dependents[dep], p.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]Package, 0, len(pkgs))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, byName[name])

		next := append([]string(nil), dependents[name]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(pkgs) {
		return nil, fmt.Errorf("workspace dependency graph contains a cycle")
	}
	return order, nil
}

// TagTemplateVars are the variables available to tag_name_template and
// release_name_template.
type TagTemplateVars struct {
	Package string
	Version string
}

// RenderTemplate renders tmplText in a strict mode where an unknown
// variable is an error rather than an empty substitution.
func RenderTemplate(tmplText string, vars TagTemplateVars) (string, error) {
	tmpl, err := template.New("name").Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", tmplText, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", tmplText, err)
	}
	return buf.String(), nil
}

// DefaultTagNameTemplate returns the default tag_name_template for the given
// mode: "{package}-v{version}" per-package, "v{version}" unified.
func DefaultTagNameTemplate(unified bool) string {
	if unified {
		return "v{{.Version}}"
	}
	return "{{.Package}}-v{{.Version}}"
}

// TagName renders the tag name for a package at a version, applying the
// configured template or the mode-appropriate default.
func TagName(tmplText string, pkgName string, v *semver.Version, unified bool) (string, error) {
	if tmplText == "" {
		tmplText = DefaultTagNameTemplate(unified)
	}
	tmplText = legacyBraceToGoTemplate(tmplText)
	return RenderTemplate(tmplText, TagTemplateVars{Package: pkgName, Version: v.String()})
}

// DefaultReleaseNameTemplate returns the default release_name_template: in
// unified mode with no configured template, "Version {version}" with no
// package name; per-package mode mirrors the tag name shape.
func DefaultReleaseNameTemplate(unified bool) string {
	if unified {
		return "Version {{.Version}}"
	}
	return "{{.Package}} {{.Version}}"
}

// ReleaseName renders the release name for a package at a version.
func ReleaseName(tmplText string, pkgName string, v *semver.Version, unified bool) (string, error) {
	if tmplText == "" {
		tmplText = DefaultReleaseNameTemplate(unified)
	}
	tmplText = legacyBraceToGoTemplate(tmplText)
	return RenderTemplate(tmplText, TagTemplateVars{Package: pkgName, Version: v.String()})
}

// legacyBraceToGoTemplate accepts the short "{package}"/"{version}"
// placeholders operators write in config and rewrites them to Go's
// {{.Package}}/{{.Version}} so the renderer stays a strict text/template
// underneath.
func legacyBraceToGoTemplate(s string) string {
	out := []byte(s)
	out = replaceAll(out, "{package}", "{{.Package}}")
	out = replaceAll(out, "{version}", "{{.Version}}")
	return string(out)
}

func replaceAll(b []byte, old, new string) []byte {
	return bytes.ReplaceAll(b, []byte(old), []byte(new))
}
