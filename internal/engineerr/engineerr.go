// Package engineerr classifies engine failures into the kinds enumerated in
// the error handling design, so the CLI entry point can decide exit codes
// and stderr formatting uniformly instead of pattern-matching error strings.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind identifies one row of the error-kind propagation table.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigParse
	KindWorkspaceRead
	KindGitOperation
	KindTagExists
	KindTagFetch
	KindForgeTransient
	KindForgeNotFound
	KindForgeForbidden
	KindRegistryIndex
	KindPublishSubprocess
	KindPublishRace
	KindPublishPollTimeout
	KindPublishConflict
	KindTokenRevocation
	KindTemplateRender
)

var kindNames = map[Kind]string{
	KindConfigParse:        "configuration parse error",
	KindWorkspaceRead:      "workspace/manifest read error",
	KindGitOperation:       "git operation failure",
	KindTagExists:          "tag already exists",
	KindTagFetch:           "tag fetch failure",
	KindForgeTransient:     "forge transient error",
	KindForgeNotFound:      "forge not-found",
	KindForgeForbidden:     "forge forbidden",
	KindRegistryIndex:      "registry index error",
	KindPublishSubprocess:  "publish subprocess failure",
	KindPublishRace:        "publish race (already uploaded)",
	KindPublishPollTimeout: "post-publish poll timeout",
	KindPublishConflict:    "publish configuration conflict",
	KindTokenRevocation:    "token revocation failure",
	KindTemplateRender:     "template render failure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown error"
}

// Error wraps an underlying error with a Kind and an optional subject (ref,
// path, package name) so the CLI can format it uniformly without losing
// the underlying cause.
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func New(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this kind may be retried (up to 3 attempts)
// before it becomes fatal.
func (e *Error) Retryable() bool {
	return e.Kind == KindForgeTransient
}

// Fatal reports whether this kind is fatal for the whole command, as opposed
// to recoverable-with-continuation (skip package, warn, etc).
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindTagExists, KindTagFetch, KindForgeNotFound, KindPublishRace,
		KindTokenRevocation, KindTemplateRender:
		return false
	default:
		return true
	}
}

// ExitCode maps a Kind to a process exit code. All fatal kinds currently
// share exit code 1; the function exists as the single place that decision
// is made.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
