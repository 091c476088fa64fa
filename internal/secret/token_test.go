package secret

import (
	"fmt"
	"strings"
	"testing"
)

func TestTokenRedaction(t *testing.T) {
	tok := NewToken("super-secret-value")
	for _, rendered := range []string{
		tok.String(),
		fmt.Sprintf("%v", tok),
		fmt.Sprintf("%+v", tok),
	} {
		if strings.Contains(rendered, "super-secret-value") {
			t.Fatalf("token leaked into formatted output: %q", rendered)
		}
	}
	if tok.Value() != "super-secret-value" {
		t.Fatalf("Value() = %q, want original secret", tok.Value())
	}
}

func TestTokenZero(t *testing.T) {
	tok := NewToken("abc")
	tok.Zero()
	if !tok.Empty() {
		t.Fatal("token should be empty after Zero")
	}
}

func TestNilTokenEmpty(t *testing.T) {
	var tok *Token
	if !tok.Empty() {
		t.Fatal("nil token should be empty")
	}
	if tok.Value() != "" {
		t.Fatal("nil token should yield empty value")
	}
}
