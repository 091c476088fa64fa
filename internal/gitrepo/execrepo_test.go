package gitrepo

import "testing"

func TestParseForgeOwnerRepoHTTPS(t *testing.T) {
	owner, repo, err := ParseForgeOwnerRepo("https://github.com/secana/k-releaser.git")
	if err != nil {
		t.Fatal(err)
	}
	if owner != "secana" || repo != "k-releaser" {
		t.Fatalf("got %s/%s", owner, repo)
	}
}

func TestParseForgeOwnerRepoSSH(t *testing.T) {
	owner, repo, err := ParseForgeOwnerRepo("git@github.com:secana/k-releaser.git")
	if err != nil {
		t.Fatal(err)
	}
	if owner != "secana" || repo != "k-releaser" {
		t.Fatalf("got %s/%s", owner, repo)
	}
}

func TestParseForgeOwnerRepoRejectsGarbage(t *testing.T) {
	if _, _, err := ParseForgeOwnerRepo("not-a-url"); err == nil {
		t.Fatal("expected error")
	}
}
