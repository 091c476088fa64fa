// Package changelog synthesizes a new changelog section from a filtered
// commit stream and splices it into an existing changelog file. Synthesis
// is round-trip stable (re-running on an already-prepared changelog is a
// byte-for-byte no-op) and never rewrites the existing header or footer:
// the whole package is a pure, deterministic function of
// (commits, version, context) -> string.
package changelog

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/secana/k-releaser/internal/conventional"
	"github.com/secana/k-releaser/internal/logging"
)

// Commit is the subset of conventional.Commit the renderer needs, plus an
// optional caller-supplied PR number used for subjects that lack a
// trailing "(#NNN)". Nothing in this package looks the number up on the
// forge.
type Commit struct {
	conventional.Commit
	PRNumber int // 0 if unknown
}

// Options configures one synthesis call.
type Options struct {
	// BodyTemplate is the text/template source for a single section; if
	// empty, defaultBodyTemplate is used.
	BodyTemplate string
	RepoURL      string
	// PRLinkTemplate is a link URL in which every "{number}" is replaced by
	// the PR number, e.g. "https://github.com/owner/repo/pull/{number}".
	// Empty disables PR-link expansion.
	PRLinkTemplate string
	// ReleaseLink, when set, is appended to the section header as a link
	// target for the version heading itself (e.g. a forge release URL).
	ReleaseLink string
}

var versionHeaderPattern = regexp.MustCompile(`(?m)^## \[?v?([0-9][0-9A-Za-z.\-+]*)\]?.*$`)

// LatestVersion returns the version recorded by the first "## [...]" header
// in an existing changelog, or "" if none is found.
func LatestVersion(existing string) string {
	loc := versionHeaderPattern.FindStringSubmatchIndex(existing)
	if loc == nil {
		return ""
	}
	return existing[loc[2]:loc[3]]
}

// Synthesize produces the full new changelog (to write to disk) and the
// delta (the new section body only, for PR/release notes).
//
// If existing already records nextVersion as its latest entry, Synthesize
// returns existing unchanged and an empty delta -- the round-trip-stability
// invariant that makes re-running the engine on an already-prepared tree a
// no-op.
func Synthesize(existing, nextVersion string, commits []Commit, opts Options) (full string, delta string, err error) {
	if LatestVersion(existing) == nextVersion {
		return existing, "", nil
	}

	section, renderErr := renderSection(nextVersion, commits, opts)
	if renderErr != nil {
		// Template render failures degrade to an empty delta with a
		// warning -- never fatal.
		logging.Default().Warn("changelog template render failed; writing an empty section", "version", nextVersion, "error", renderErr)
		return spliceEmpty(existing, nextVersion), "", nil
	}

	section = strings.TrimRight(section, "\n") + "\n"
	delta = extractBody(section)

	header, rest := splitHeader(existing)
	var buf strings.Builder
	buf.WriteString(header)
	buf.WriteString(section)
	if rest != "" {
		buf.WriteString("\n")
		buf.WriteString(rest)
	}
	return buf.String(), delta, nil
}

// spliceEmpty splices in a bare version heading when section rendering
// failed, so the changelog file still advances past the round-trip check
// on a subsequent run.
func spliceEmpty(existing, nextVersion string) string {
	header, rest := splitHeader(existing)
	section := fmt.Sprintf("## [%s]\n", nextVersion)
	var buf strings.Builder
	buf.WriteString(header)
	buf.WriteString(section)
	if rest != "" {
		buf.WriteString("\n")
		buf.WriteString(rest)
	}
	return buf.String()
}

// splitHeader separates the leading header/footer text (everything before
// the first version heading) from the rest of an existing changelog, so
// synthesis never rewrites that preamble.
func splitHeader(existing string) (header, rest string) {
	loc := versionHeaderPattern.FindStringIndex(existing)
	if loc == nil {
		if existing == "" {
			return "", ""
		}
		return strings.TrimRight(existing, "\n") + "\n\n", ""
	}
	return existing[:loc[0]], existing[loc[0]:]
}

// extractBody returns the delta: the new section with its header line
// removed and the body trimmed.
func extractBody(section string) string {
	idx := strings.IndexByte(section, '\n')
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(section[idx+1:])
}

type sectionData struct {
	Version     string
	ReleaseLink string
	Groups      []group
}

type group struct {
	Title   string
	Entries []entry
}

type entry struct {
	Subject      string
	SHA          string
	RemoteAuthor string
}

var groupOrder = []struct {
	title string
	match func(conventional.Commit) bool
}{
	{"Breaking Changes", func(c conventional.Commit) bool { return c.Breaking }},
	{"Features", func(c conventional.Commit) bool { return !c.Breaking && c.Categorized && c.Type == "feat" }},
	{"Bug Fixes", func(c conventional.Commit) bool { return !c.Breaking && c.Categorized && c.Type == "fix" }},
	{"Other Changes", func(c conventional.Commit) bool { return true }}, // catch-all, must stay last
}

const defaultBodyTemplate = `## [{{.Version}}]{{if .ReleaseLink}} - [release]({{.ReleaseLink}}){{end}}

{{range .Groups}}### {{.Title}}

{{range .Entries}}- {{.Subject}}{{if .RemoteAuthor}} (@{{.RemoteAuthor}}){{end}}
{{end}}
{{end}}`

func renderSection(version string, commits []Commit, opts Options) (string, error) {
	data := sectionData{Version: version, ReleaseLink: opts.ReleaseLink}

	assigned := make([]bool, len(commits))
	for _, g := range groupOrder {
		var entries []entry
		for i, c := range commits {
			if assigned[i] {
				continue
			}
			if !g.match(c.Commit) {
				continue
			}
			assigned[i] = true
			entries = append(entries, entry{
				Subject:      expandPRLink(c, opts),
				SHA:          c.SHA,
				RemoteAuthor: c.RemoteAuthor,
			})
		}
		if len(entries) > 0 {
			data.Groups = append(data.Groups, group{Title: g.title, Entries: entries})
		}
	}

	tmplSrc := opts.BodyTemplate
	if tmplSrc == "" {
		tmplSrc = defaultBodyTemplate
	}
	tmpl, err := template.New("section").Parse(tmplSrc)
	if err != nil {
		return "", fmt.Errorf("parsing changelog body template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing changelog body template: %w", err)
	}
	return buf.String(), nil
}

var trailingPRPattern = regexp.MustCompile(`\(#(\d+)\)\s*$`)

// expandPRLink links a subject's trailing "(#NNN)" when a PR link template
// is configured. Commits enriched out-of-band
// with a forge-resolved PRNumber but no trailing "(#NNN)" in the subject
// get one appended, then linked the same way.
func expandPRLink(c Commit, opts Options) string {
	subject := c.Subject
	if opts.PRLinkTemplate == "" {
		return subject
	}
	if m := trailingPRPattern.FindStringSubmatchIndex(subject); m != nil {
		number := subject[m[2]:m[3]]
		link := strings.ReplaceAll(opts.PRLinkTemplate, "{number}", number)
		return subject[:m[0]] + fmt.Sprintf("([#%s](%s))", number, link) + subject[m[1]:]
	}
	if c.PRNumber > 0 {
		number := fmt.Sprintf("%d", c.PRNumber)
		link := strings.ReplaceAll(opts.PRLinkTemplate, "{number}", number)
		return fmt.Sprintf("%s ([#%s](%s))", subject, number, link)
	}
	return subject
}

var botSuffixPattern = regexp.MustCompile(`\[bot\]$`)

// Contributors returns the unique non-author (i.e. non-empty RemoteAuthor),
// non-bot usernames in first-seen order.
func Contributors(commits []Commit) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range commits {
		name := c.RemoteAuthor
		if name == "" || botSuffixPattern.MatchString(name) {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ExtractLastEntry scans changelogText top-down for the first version
// header, then the next one, and returns the substring between them. The
// release controller uses it to recover notes when no synthesis ran in the
// same invocation.
func ExtractLastEntry(changelogText string) (string, error) {
	matches := versionHeaderPattern.FindAllStringIndex(changelogText, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no version header found in changelog")
	}
	start := matches[0][1]
	end := len(changelogText)
	if len(matches) > 1 {
		end = matches[1][0]
	}
	return strings.TrimSpace(changelogText[start:end]), nil
}

const detailsOpen = "<details>"
const detailsClose = "</details>"

var summaryTagPattern = regexp.MustCompile(`(?s)^\s*<summary>.*?</summary>\s*`)

// ExtractChangelogFromPRBody extracts the block between <details> and
// </details> in a PR body and strips a leading <summary>...</summary> tag.
// If no <details> tag is found, the full body is returned, which keeps
// custom PR bodies usable as release notes.
func ExtractChangelogFromPRBody(body string) string {
	start := strings.Index(body, detailsOpen)
	if start < 0 {
		return body
	}
	start += len(detailsOpen)
	end := strings.Index(body[start:], detailsClose)
	if end < 0 {
		return body
	}
	inner := body[start : start+end]
	inner = summaryTagPattern.ReplaceAllString(inner, "")
	return strings.TrimSpace(inner)
}

// RenderPRBody embeds delta inside a <details><summary>Changelog</summary>
// block, the inverse operation ExtractChangelogFromPRBody must round-trip
// for any delta containing no <details> tag.
func RenderPRBody(title, delta string) string {
	var buf strings.Builder
	if title != "" {
		buf.WriteString(title)
		buf.WriteString("\n\n")
	}
	buf.WriteString(detailsOpen)
	buf.WriteString("<summary>Changelog</summary>\n\n")
	buf.WriteString(delta)
	buf.WriteString("\n")
	buf.WriteString(detailsClose)
	buf.WriteString("\n")
	return buf.String()
}

// SortBySHA returns a copy of commits ordered by sha, a stable ordering
// independent of walk order.
func SortBySHA(commits []Commit) []Commit {
	out := append([]Commit(nil), commits...)
	sort.Slice(out, func(i, j int) bool { return out[i].SHA < out[j].SHA })
	return out
}
