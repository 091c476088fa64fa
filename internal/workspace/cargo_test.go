package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCargoLoaderReadsWorkspaceMembers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Cargo.toml"), `
[workspace]
members = ["crates/*"]
`)
	writeFile(t, filepath.Join(dir, "crates/alpha/Cargo.toml"), `
[package]
name = "alpha"
version = "0.1.0"

[dependencies]
beta = { path = "../beta", version = "0.1" }
serde = "1.0"
`)
	writeFile(t, filepath.Join(dir, "crates/beta/Cargo.toml"), `
[package]
name = "beta"
version = "0.1.0"
publish = false
`)

	snap, err := CargoLoader{}.Load(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Packages) != 2 {
		t.Fatalf("expected 2 packages, got %d: %v", len(snap.Packages), snap.Packages)
	}

	alpha, ok := snap.ByName("alpha")
	if !ok {
		t.Fatal("expected alpha package")
	}
	if !alpha.Publishable() {
		t.Fatal("alpha should be publishable by default (no publish field)")
	}
	if len(alpha.Dependencies) != 1 || alpha.Dependencies[0] != "beta" {
		t.Fatalf("expected alpha to depend on beta only (serde is external), got %v", alpha.Dependencies)
	}

	beta, ok := snap.ByName("beta")
	if !ok {
		t.Fatal("expected beta package")
	}
	if beta.Publishable() {
		t.Fatal("beta has publish = false and should not be publishable")
	}
}

func TestCargoLoaderSinglePackage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Cargo.toml"), `
[package]
name = "solo"
version = "1.2.3"
publish = ["my-registry"]
`)
	snap, err := CargoLoader{}.Load(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Packages) != 1 {
		t.Fatalf("expected 1 package, got %d", len(snap.Packages))
	}
	pkg := snap.Packages[0]
	if pkg.Name != "solo" || pkg.Version.String() != "1.2.3" {
		t.Fatalf("unexpected package: %+v", pkg)
	}
	if len(pkg.PublishRegistries) != 1 || pkg.PublishRegistries[0] != "my-registry" {
		t.Fatalf("expected publish list [my-registry], got %v", pkg.PublishRegistries)
	}
}

func TestCargoLoaderResolvesWorkspaceInheritedVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Cargo.toml"), `
[workspace]
members = ["crates/*"]

[workspace.package]
version = "0.3.0"
`)
	writeFile(t, filepath.Join(dir, "crates/alpha/Cargo.toml"), `
[package]
name = "alpha"
version = { workspace = true }
`)
	writeFile(t, filepath.Join(dir, "crates/beta/Cargo.toml"), `
[package]
name = "beta"
version = { workspace = true }
`)

	snap, err := CargoLoader{}.Load(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	alpha, ok := snap.ByName("alpha")
	if !ok {
		t.Fatal("expected alpha package")
	}
	if alpha.Version.String() != "0.3.0" {
		t.Fatalf("alpha version = %s, want inherited 0.3.0", alpha.Version)
	}
	if !alpha.VersionInherited {
		t.Fatal("alpha should be marked version-inherited")
	}
	if !snap.Unified {
		t.Fatal("expected unified mode when all members share the workspace version")
	}
	if snap.RootManifest != filepath.Join(dir, "Cargo.toml") {
		t.Fatalf("RootManifest = %s", snap.RootManifest)
	}
}

func TestCargoLoaderRejectsMissingManifestSections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Cargo.toml"), "# empty\n")
	if _, err := (CargoLoader{}).Load(filepath.Join(dir, "Cargo.toml")); err == nil {
		t.Fatal("expected an error for a manifest with neither [workspace] nor [package]")
	}
}
