package releasepr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestSetVersionPreservesRestOfManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Cargo.toml")
	writeFile(t, path, "# build manifest\n[package]\nname = \"widget\"\nversion = \"1.0.0\"\nedition = \"2021\"\n")

	err := TOMLManifestWriter{}.SetVersion(path, "widget", semver.MustParse("1.1.0"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `version = "1.1.0"`)
	require.Contains(t, string(data), "# build manifest")
	require.Contains(t, string(data), `edition = "2021"`)
}

func TestSetWorkspaceVersionNoVersionLineIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Cargo.toml")
	original := "[workspace]\nmembers = [\"crates/*\"]\n"
	writeFile(t, path, original)

	changed, err := SetWorkspaceVersion(path, semver.MustParse("2.0.0"))
	require.NoError(t, err)
	require.False(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, string(data))
}

func TestUpdateLockfileRewritesOnlyTrackedPackages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Cargo.lock")
	writeFile(t, path, strings.Join([]string{
		`version = 3`,
		``,
		`[[package]]`,
		`name = "alpha"`,
		`version = "0.1.0"`,
		``,
		`[[package]]`,
		`name = "serde"`,
		`version = "1.0.200"`,
		`source = "registry+https://github.com/rust-lang/crates.io-index"`,
		``,
	}, "\n"))

	changed, err := UpdateLockfile(path, map[string]string{"alpha": "0.2.0"})
	require.NoError(t, err)
	require.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `version = "0.2.0"`)
	require.Contains(t, string(data), `version = "1.0.200"`)
}

func TestUpdateLockfileMissingFileIsNoop(t *testing.T) {
	changed, err := UpdateLockfile(filepath.Join(t.TempDir(), "Cargo.lock"), map[string]string{"alpha": "0.2.0"})
	require.NoError(t, err)
	require.False(t, changed)
}
