package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// CargoLoader reads real Cargo.toml files (the root workspace manifest's
// [workspace] members list, then each member's [package] table) into a
// Snapshot. It parses the manifests directly rather than shelling out to a
// `cargo` binary that may not be on PATH in CI.
type CargoLoader struct{}

// cargoManifest is the subset of Cargo.toml fields the loader reads.
type cargoManifest struct {
	Workspace *struct {
		Members []string `toml:"members"`
		Package *struct {
			Version string `toml:"version"`
		} `toml:"package"`
	} `toml:"workspace"`
	Package *struct {
		Name string `toml:"name"`
		// Version is either a plain string or the inheritance table
		// { workspace = true }, which resolves against the root manifest's
		// [workspace.package] version.
		Version any `toml:"version"`
		// Publish mirrors Cargo's own schema: omitted (nil) defaults to
		// publishing to crates-io, `false` disables publishing, and a
		// list of strings names specific registries.
		Publish any `toml:"publish"`
	} `toml:"package"`
	Dependencies      map[string]any `toml:"dependencies"`
	DevDependencies   map[string]any `toml:"dev-dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
}

// resolveVersion interprets a member manifest's version field: a plain
// string stands on its own, while { workspace = true } inherits the root
// manifest's [workspace.package] version.
func resolveVersion(v any, workspaceVersion string) (version string, inherited bool, err error) {
	switch t := v.(type) {
	case string:
		return t, false, nil
	case map[string]any:
		if ws, ok := t["workspace"].(bool); ok && ws {
			if workspaceVersion == "" {
				return "", true, fmt.Errorf("version.workspace = true but the root manifest has no [workspace.package] version")
			}
			return workspaceVersion, true, nil
		}
		return "", false, fmt.Errorf("unrecognized version table %v", t)
	default:
		return "", false, fmt.Errorf("missing or unrecognized version field")
	}
}

// Load reads the workspace rooted at manifestPath (a path to a Cargo.toml,
// either a workspace root or a single package) into a Snapshot.
func (CargoLoader) Load(manifestPath string) (Snapshot, error) {
	root, err := filepath.Abs(manifestPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolving manifest path %s: %w", manifestPath, err)
	}
	raw, err := os.ReadFile(root)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading workspace manifest %s: %w", root, err)
	}
	var rootManifest cargoManifest
	if err := toml.Unmarshal(raw, &rootManifest); err != nil {
		return Snapshot{}, fmt.Errorf("parsing workspace manifest %s: %w", root, err)
	}

	rootDir := filepath.Dir(root)
	workspaceVersion := ""
	if rootManifest.Workspace != nil && rootManifest.Workspace.Package != nil {
		workspaceVersion = rootManifest.Workspace.Package.Version
	}
	var memberDirs []string
	switch {
	case rootManifest.Workspace != nil && len(rootManifest.Workspace.Members) > 0:
		memberDirs, err = expandMembers(rootDir, rootManifest.Workspace.Members)
		if err != nil {
			return Snapshot{}, err
		}
		if rootManifest.Package != nil {
			// A workspace root can also itself be a package ("mixed
			// manifest"); include it alongside its members.
			memberDirs = append(memberDirs, rootDir)
		}
	case rootManifest.Package != nil:
		memberDirs = []string{rootDir}
	default:
		return Snapshot{}, fmt.Errorf("%s: no [workspace] or [package] section found", root)
	}

	type rawPkg struct {
		Package
		depNames []string
	}
	rawPkgs := make([]rawPkg, 0, len(memberDirs))
	for _, dir := range uniqueStrings(memberDirs) {
		manifestFile := filepath.Join(dir, "Cargo.toml")
		data, err := os.ReadFile(manifestFile)
		if err != nil {
			return Snapshot{}, fmt.Errorf("reading member manifest %s: %w", manifestFile, err)
		}
		var m cargoManifest
		if err := toml.Unmarshal(data, &m); err != nil {
			return Snapshot{}, fmt.Errorf("parsing member manifest %s: %w", manifestFile, err)
		}
		if m.Package == nil {
			continue // a virtual-manifest directory with no [package] table
		}
		versionStr, inherited, err := resolveVersion(m.Package.Version, workspaceVersion)
		if err != nil {
			return Snapshot{}, fmt.Errorf("resolving version for package %s: %w", m.Package.Name, err)
		}
		v, err := semver.NewVersion(versionStr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parsing version for package %s: %w", m.Package.Name, err)
		}
		rawPkgs = append(rawPkgs, rawPkg{
			Package: Package{
				Name:              m.Package.Name,
				Version:           v,
				Root:              dir,
				ManifestPath:      manifestFile,
				PublishRegistries: publishRegistries(m.Package.Publish),
				VersionInherited:  inherited,
			},
			depNames: depNamesFrom(m.Dependencies, m.DevDependencies, m.BuildDependencies),
		})
	}

	names := make(map[string]bool, len(rawPkgs))
	for _, p := range rawPkgs {
		names[p.Name] = true
	}

	pkgs := make([]Package, 0, len(rawPkgs))
	for _, rp := range rawPkgs {
		pkg := rp.Package
		for _, dep := range rp.depNames {
			if names[dep] {
				pkg.Dependencies = append(pkg.Dependencies, dep)
			}
		}
		sort.Strings(pkg.Dependencies)
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })

	unified, sharedVersion := DetectUnified(pkgs)
	return Snapshot{
		Packages:         pkgs,
		Unified:          unified,
		WorkspaceVersion: sharedVersion,
		RepoRoot:         rootDir,
		RootManifest:     root,
	}, nil
}

// publishRegistries interprets Cargo's own publish field schema: omitted
// means "publish to crates-io", false means "publishing disabled", and a
// list of strings names the specific registries allowed.
func publishRegistries(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{"crates-io"}
	case bool:
		if t {
			return []string{"crates-io"}
		}
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{"crates-io"}
	}
}

func depNamesFrom(tables ...map[string]any) []string {
	seen := map[string]bool{}
	var out []string
	for _, table := range tables {
		for name := range table {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// expandMembers resolves the [workspace].members glob patterns (Cargo
// supports trailing "*" shell globs, e.g. "crates/*") relative to root into
// a list of member directories. A directory matched by several patterns
// appears once per match; Load removes the duplicates.
func expandMembers(root string, patterns []string) ([]string, error) {
	var dirs []string
	for _, pattern := range patterns {
		full := filepath.Join(root, filepath.FromSlash(pattern))
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("expanding workspace member pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
			matches = []string{full}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.IsDir() {
				continue
			}
			dirs = append(dirs, m)
		}
	}
	return dirs, nil
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
