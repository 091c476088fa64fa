// Package conventional parses conventional-commit subject/body pairs.
//
// A conventional commit subject has the shape "type(scope)!: description".
// A parse failure is not an error to the caller: Parse always returns a
// Commit, setting Categorized=false for anything that doesn't match, so
// callers can treat unparsed commits as "uncategorized" with patch weight
// per the version-resolver rules.
package conventional

import (
	"regexp"
	"strings"
)

// Commit is the parsed form of a single conventional-commit message. The
// message passed to Parse must preserve the blank line between subject and
// body verbatim -- that blank line is what lets BREAKING CHANGE: footers and
// other trailers attach to the body instead of bleeding into the subject.
type Commit struct {
	Type        string
	Scope       string
	Description string
	Body        string
	Breaking    bool
	BreakingMsg string
	Categorized bool
	Subject     string

	// SHA and RemoteAuthor are populated by the caller (the commit walker)
	// rather than by Parse itself -- they aren't part of the message.
	SHA          string
	RemoteAuthor string
}

var subjectPattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9_-]*)(\(([^)]*)\))?(!)?:\s*(.+)$`)

var breakingFooterPattern = regexp.MustCompile(`(?m)^BREAKING[ -]CHANGE:\s*(.+)$`)

// Parse splits message into its subject line and the remainder, then
// classifies the subject as a conventional-commit header. message must be
// the full git commit message (subject, blank line, body) exactly as
// collected -- not trimmed or re-joined.
func Parse(message string) Commit {
	subject, body, _ := strings.Cut(message, "\n")
	// A message with no blank line before the body cannot have its footers
	// attached reliably; only a genuine blank-line separator qualifies the
	// remainder as a body. We still keep whatever text follows so nothing is
	// silently dropped, but footer extraction only fires past a blank line.
	body = strings.TrimPrefix(body, "\n")

	subject = strings.TrimSpace(subject)
	m := subjectPattern.FindStringSubmatch(subject)
	if m == nil {
		return Commit{Subject: subject, Body: body, Categorized: false}
	}

	c := Commit{
		Type:        strings.ToLower(m[1]),
		Scope:       m[3],
		Description: strings.TrimSpace(m[5]),
		Subject:     subject,
		Body:        body,
		Categorized: true,
	}
	if m[4] == "!" {
		c.Breaking = true
		c.BreakingMsg = c.Description
	}

	if hasBlankLineSeparator(message) {
		if fm := breakingFooterPattern.FindStringSubmatch(body); fm != nil {
			c.Breaking = true
			c.BreakingMsg = strings.TrimSpace(fm[1])
		}
	}
	return c
}

// hasBlankLineSeparator reports whether message contains a blank line
// somewhere after the first line, which is the conventional-commit
// requirement for trailers/footers to be recognized at all. A message
// without it still parses its header, but footers are not honored.
func hasBlankLineSeparator(message string) bool {
	lines := strings.Split(message, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] == "" {
			return true
		}
	}
	return false
}

// IrrelevantTypes are commit types that never contribute to a version bump
// unless marked breaking.
var IrrelevantTypes = map[string]bool{
	"docs":     true,
	"style":    true,
	"refactor": true,
	"perf":     true,
	"test":     true,
	"chore":    true,
	"ci":       true,
}

// IsRelevant reports whether c should be considered for version-bump
// purposes: breaking commits are always relevant regardless of type; other
// commits are relevant unless their type is in IrrelevantTypes (or they
// failed to parse as conventional, which counts as relevant with patch
// weight).
func (c Commit) IsRelevant() bool {
	if c.Breaking {
		return true
	}
	if !c.Categorized {
		return true
	}
	return !IrrelevantTypes[c.Type]
}

// IsFeature reports whether c is a "feat" commit.
func (c Commit) IsFeature() bool {
	return c.Categorized && c.Type == "feat"
}
