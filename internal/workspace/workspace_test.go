package workspace

import (
	"testing"

	"github.com/Masterminds/semver/v3"
)

func v(t *testing.T, s string) *semver.Version {
	t.Helper()
	ver, err := semver.NewVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return ver
}

func TestReleaseOrderDependenciesFirst(t *testing.T) {
	pkgs := []Package{
		{Name: "b", Dependencies: []string{"a"}},
		{Name: "a"},
		{Name: "c", Dependencies: []string{"a", "b"}},
	}
	order, err := ReleaseOrder(pkgs)
	if err != nil {
		t.Fatal(err)
	}
	pos := map[string]int{}
	for i, p := range order {
		pos[p.Name] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestReleaseOrderTiesBrokenByName(t *testing.T) {
	pkgs := []Package{{Name: "zeta"}, {Name: "alpha"}, {Name: "mu"}}
	order, err := ReleaseOrder(pkgs)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mu", "zeta"}
	for i, name := range want {
		if order[i].Name != name {
			t.Fatalf("order = %v, want %v", namesOf(order), want)
		}
	}
}

func namesOf(pkgs []Package) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Name
	}
	return out
}

func TestReleaseOrderDetectsCycle(t *testing.T) {
	pkgs := []Package{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"a"}},
	}
	_, err := ReleaseOrder(pkgs)
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestDetectUnified(t *testing.T) {
	pkgs := []Package{
		{Name: "a", Version: v(t, "1.0.0"), PublishRegistries: []string{"crates-io"}},
		{Name: "b", Version: v(t, "1.0.0"), PublishRegistries: []string{"crates-io"}},
	}
	unified, ver := DetectUnified(pkgs)
	if !unified {
		t.Fatal("expected unified mode")
	}
	if ver.String() != "1.0.0" {
		t.Fatalf("got %s", ver)
	}
}

func TestDetectUnifiedFalseOnMismatch(t *testing.T) {
	pkgs := []Package{
		{Name: "a", Version: v(t, "1.0.0"), PublishRegistries: []string{"crates-io"}},
		{Name: "b", Version: v(t, "2.0.0"), PublishRegistries: []string{"crates-io"}},
	}
	unified, _ := DetectUnified(pkgs)
	if unified {
		t.Fatal("expected non-unified mode on version mismatch")
	}
}

func TestTagNameDefaults(t *testing.T) {
	name, err := TagName("", "widget", v(t, "1.2.3"), false)
	if err != nil {
		t.Fatal(err)
	}
	if name != "widget-v1.2.3" {
		t.Fatalf("got %q", name)
	}

	unifiedName, err := TagName("", "widget", v(t, "1.2.3"), true)
	if err != nil {
		t.Fatal(err)
	}
	if unifiedName != "v1.2.3" {
		t.Fatalf("got %q", unifiedName)
	}
}

func TestTagNameUnknownVariableErrors(t *testing.T) {
	_, err := RenderTemplate("{{.Bogus}}", TagTemplateVars{Package: "p", Version: "1.0.0"})
	if err == nil {
		t.Fatal("expected error for unknown template variable")
	}
}

func TestReleaseNameUnifiedDefault(t *testing.T) {
	name, err := ReleaseName("", "widget", v(t, "1.0.0"), true)
	if err != nil {
		t.Fatal(err)
	}
	if name != "Version 1.0.0" {
		t.Fatalf("got %q", name)
	}
}
