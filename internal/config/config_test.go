package config

import (
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	data := []byte(`
[workspace]
tag_enabled = true
bogus_field = "nope"
`)
	_, err := Load(data)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadAndMergePrecedence(t *testing.T) {
	data := []byte(`
[workspace]
tag_name_template = "v{version}"
draft = false

[[package]]
name = "widget"
draft = true
`)
	cfg, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := cfg.ForPackage("widget")
	if err != nil {
		t.Fatal(err)
	}
	if !merged.DraftOr(false) {
		t.Fatal("package-level draft=true should win over workspace draft=false")
	}
	if merged.TagNameTemplate != "v{version}" {
		t.Fatalf("expected workspace default to fill unset package field, got %q", merged.TagNameTemplate)
	}
}

func TestForPackageNoOverride(t *testing.T) {
	data := []byte(`
[workspace]
tag_name_template = "{package}-v{version}"
`)
	cfg, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := cfg.ForPackage("other")
	if err != nil {
		t.Fatal(err)
	}
	if merged.TagNameTemplate != "{package}-v{version}" {
		t.Fatalf("got %q", merged.TagNameTemplate)
	}
}

func TestDurationParsing(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("30m")); err != nil {
		t.Fatal(err)
	}
	if d.AsDuration().Minutes() != 30 {
		t.Fatalf("got %s", d.AsDuration())
	}

	var bare Duration
	if err := bare.UnmarshalText([]byte("45")); err != nil {
		t.Fatal(err)
	}
	if bare.AsDuration().Seconds() != 45 {
		t.Fatalf("bare integer should mean seconds, got %s", bare.AsDuration())
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	err := d.UnmarshalText([]byte("not-a-duration"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parsing duration") {
		t.Fatalf("unexpected error: %v", err)
	}
}
