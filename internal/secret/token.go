// Package secret holds credential types that must never be logged.
package secret

import "fmt"

// Token wraps a short-lived or long-lived credential string. Its String and
// Format methods always redact the value so it cannot leak into logs, error
// messages, or %+v dumps; Zero must be called once the token is no longer
// needed.
type Token struct {
	value []byte
}

// NewToken copies s into a Token-owned buffer.
func NewToken(s string) *Token {
	if s == "" {
		return nil
	}
	t := &Token{value: make([]byte, len(s))}
	copy(t.value, s)
	return t
}

// Value returns the underlying secret. Callers must not log the result.
func (t *Token) Value() string {
	if t == nil {
		return ""
	}
	return string(t.value)
}

// Empty reports whether the token carries no value (including a nil receiver).
func (t *Token) Empty() bool {
	return t == nil || len(t.value) == 0
}

// Zero overwrites the backing buffer so the secret does not linger in memory.
func (t *Token) Zero() {
	if t == nil {
		return
	}
	for i := range t.value {
		t.value[i] = 0
	}
	t.value = nil
}

// String implements fmt.Stringer with redaction.
func (t *Token) String() string {
	if t.Empty() {
		return "<empty-token>"
	}
	return "<redacted-token>"
}

// Format implements fmt.Formatter so %v, %+v, and %#v all redact.
func (t *Token) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(t.String()))
}

// GoString implements fmt.GoStringer so %#v redacts too.
func (t *Token) GoString() string {
	return t.String()
}
