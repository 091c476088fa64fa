package releasepr

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// TOMLManifestWriter bumps the first `version = "..."` line of a package
// manifest in place: a surgical edit that leaves comments and key ordering
// in the rest of the file untouched, where a full parse-marshal round trip
// would discard both.
type TOMLManifestWriter struct{}

var versionLinePattern = regexp.MustCompile(`(?m)^(\s*version\s*=\s*)"[^"]*"`)

func (TOMLManifestWriter) SetVersion(path, packageName string, next *semver.Version) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading manifest %s: %w", path, err)
	}
	loc := versionLinePattern.FindSubmatchIndex(raw)
	if loc == nil {
		return fmt.Errorf("manifest %s: no version field found for package %s", path, packageName)
	}
	replaced := append(append(append([]byte(nil), raw[:loc[3]]...), fmt.Sprintf(`"%s"`, next.String())...), raw[loc[1]:]...)
	if err := os.WriteFile(path, replaced, 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}

// SetWorkspaceVersion bumps the first version line of a workspace root manifest
// (the [workspace.package] version members inherit from). A root manifest
// with no version line -- a pure virtual manifest whose members all carry
// their own versions -- is left untouched and reported as unchanged.
func SetWorkspaceVersion(path string, next *semver.Version) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading workspace manifest %s: %w", path, err)
	}
	loc := versionLinePattern.FindSubmatchIndex(raw)
	if loc == nil {
		return false, nil
	}
	replaced := append(append(append([]byte(nil), raw[:loc[3]]...), fmt.Sprintf(`"%s"`, next.String())...), raw[loc[1]:]...)
	if string(replaced) == string(raw) {
		return false, nil
	}
	if err := os.WriteFile(path, replaced, 0o644); err != nil {
		return false, fmt.Errorf("writing workspace manifest %s: %w", path, err)
	}
	return true, nil
}

var lockNamePattern = regexp.MustCompile(`^name\s*=\s*"([^"]+)"`)
var lockVersionPattern = regexp.MustCompile(`^(version\s*=\s*)"[^"]*"`)

// UpdateLockfile rewrites the version lines of lockfile [[package]] entries
// whose names appear in versions, leaving every other line byte-identical.
// A missing lockfile is not an error; the repository simply doesn't commit
// one.
func UpdateLockfile(path string, versions map[string]string) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	lines := strings.Split(string(raw), "\n")
	current := ""
	changed := false
	for i, line := range lines {
		if m := lockNamePattern.FindStringSubmatch(line); m != nil {
			current = m[1]
			continue
		}
		next, tracked := versions[current]
		if !tracked {
			continue
		}
		if m := lockVersionPattern.FindStringSubmatchIndex(line); m != nil {
			replaced := lockVersionPattern.ReplaceAllString(line, fmt.Sprintf(`${1}"%s"`, next))
			if replaced != line {
				lines[i] = replaced
				changed = true
			}
			current = ""
		}
	}
	if !changed {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return false, fmt.Errorf("writing lockfile %s: %w", path, err)
	}
	return true, nil
}
