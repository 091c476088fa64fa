package publish

import (
	"context"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/secana/k-releaser/internal/secret"
)

type fakeIndex struct {
	contains bool
	// flip makes the index report a version absent on its first lookup per
	// package and present afterwards, modelling a registry that settles
	// right after the publish subprocess returns.
	flip  bool
	err   error
	calls int
	seen  map[string]int
}

func (f *fakeIndex) Contains(ctx context.Context, name, version string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if f.flip {
		if f.seen == nil {
			f.seen = map[string]int{}
		}
		f.seen[name]++
		return f.seen[name] > 1, nil
	}
	return f.contains, nil
}

type fakePublisher struct {
	outcome PublishOutcome
	err     error
	calls   []PublishInvocation
}

func (f *fakePublisher) Publish(ctx context.Context, inv PublishInvocation) (PublishOutcome, error) {
	// Record the token as it was at call time: the controller zeroes the
	// shared trusted-publishing token in place once it revokes it.
	inv.Token = secret.NewToken(inv.Token.Value())
	f.calls = append(f.calls, inv)
	return f.outcome, f.err
}

type fakeTrusted struct {
	acquireCalls int
	revokeCalls  int
	token        *secret.Token
}

func (f *fakeTrusted) Acquire(ctx context.Context, registryName string) (*secret.Token, error) {
	f.acquireCalls++
	return f.token, nil
}

func (f *fakeTrusted) Revoke(ctx context.Context, token *secret.Token) error {
	f.revokeCalls++
	return nil
}

func pkg(name string) Package {
	return Package{
		Name:                      name,
		Version:                   semver.MustParse("1.0.0"),
		Path:                      "/repo/" + name + "/manifest.toml",
		Tag:                       name + "-v1.0.0",
		ManifestPublishRegistries: []string{"default"},
	}
}

func TestResolveRegistriesDefaultsWhenBothEmpty(t *testing.T) {
	require.Equal(t, []string{"default"}, resolveRegistries(nil, ""))
}

func TestResolveRegistriesUsesManifestListWhenNoOverride(t *testing.T) {
	require.Equal(t, []string{"crates-io", "mirror"}, resolveRegistries([]string{"crates-io", "mirror"}, ""))
}

func TestResolveRegistriesIntersectsOverride(t *testing.T) {
	require.Equal(t, []string{"mirror"}, resolveRegistries([]string{"crates-io", "mirror"}, "mirror"))
}

func TestResolveRegistriesOverrideNotInManifestListYieldsNothing(t *testing.T) {
	require.Nil(t, resolveRegistries([]string{"crates-io"}, "mirror"))
}

func TestPreflightRejectsConfigEnabledWithEmptyManifestList(t *testing.T) {
	c := &Controller{}
	p := Package{Name: "widget", ConfigPublishEnabled: true}
	err := c.preflight([]Package{p})
	require.Error(t, err)
}

func TestRunSkipsAlreadyPublishedPackage(t *testing.T) {
	idx := &fakeIndex{contains: true}
	pub := &fakePublisher{}
	c := &Controller{
		Registries: map[string]RegistryConfig{"default": {Name: "default", Index: idx, IsDefaultPublic: true}},
		Publisher:  pub,
	}
	result, err := c.Run(context.Background(), []Package{pkg("widget")})
	require.NoError(t, err)
	require.Empty(t, result.Published)
	require.Empty(t, pub.calls)
}

func TestRunDryRunPublishesNothing(t *testing.T) {
	idx := &fakeIndex{contains: false}
	pub := &fakePublisher{}
	c := &Controller{
		Registries: map[string]RegistryConfig{"default": {Name: "default", Index: idx, IsDefaultPublic: true}},
		Publisher:  pub,
		DryRun:     true,
	}
	result, err := c.Run(context.Background(), []Package{pkg("widget")})
	require.NoError(t, err)
	require.Empty(t, result.Published)
	require.Empty(t, pub.calls)
}

func TestRunPublishesAndWaitsForIndexToSettle(t *testing.T) {
	idx := &fakeIndex{flip: true}
	pub := &fakePublisher{outcome: PublishOutcome{Stderr: "   Uploading widget v1.0.0\n", ExitCode: 0}}
	c := &Controller{
		Registries:      map[string]RegistryConfig{"default": {Name: "default", Index: idx, IsDefaultPublic: true}},
		Publisher:       pub,
		PublishTimeout:  time.Second,
		PublishInterval: 2 * time.Millisecond,
	}

	result, err := c.Run(context.Background(), []Package{pkg("widget")})
	require.NoError(t, err)
	require.Len(t, result.Published, 1)
	require.Equal(t, "widget", result.Published[0].PackageName)
	require.Equal(t, "widget-v1.0.0", result.Published[0].Tag)
	require.Len(t, pub.calls, 1)
}

func TestClassifyPublishTreatsAlreadyUploadedAsRace(t *testing.T) {
	raced, err := classifyPublish(PublishOutcome{Stderr: "error: crate version 1.0.0 is already uploaded", ExitCode: 1}, nil)
	require.NoError(t, err)
	require.True(t, raced)
}

func TestClassifyPublishFailsOnErrorLine(t *testing.T) {
	_, err := classifyPublish(PublishOutcome{Stderr: "error: failed to verify package tarball", ExitCode: 1}, nil)
	require.Error(t, err)
}

func TestClassifyPublishFailsWithoutUploadingLine(t *testing.T) {
	_, err := classifyPublish(PublishOutcome{Stderr: "", ExitCode: 0}, nil)
	require.Error(t, err)
}

func TestClassifyPublishSucceedsOnUploadingLine(t *testing.T) {
	raced, err := classifyPublish(PublishOutcome{Stderr: "   Uploading widget v1.0.0", ExitCode: 0}, nil)
	require.NoError(t, err)
	require.False(t, raced)
}

func TestTokenForPrefersExplicitToken(t *testing.T) {
	c := &Controller{ExplicitToken: secret.NewToken("explicit"), ExplicitTokenProvided: true}
	tok, err := c.tokenFor(context.Background(), RegistryConfig{Name: "default", IsDefaultPublic: true})
	require.NoError(t, err)
	require.Equal(t, "explicit", tok.Value())
}

func TestTokenForCIEmptyExplicitTokenAgainstDefaultRegistryIsAnError(t *testing.T) {
	c := &Controller{ExplicitToken: secret.NewToken(""), ExplicitTokenProvided: true, CI: true}
	_, err := c.tokenFor(context.Background(), RegistryConfig{Name: "default", IsDefaultPublic: true})
	require.Error(t, err)
}

func TestTokenForFallsBackToCredentialSource(t *testing.T) {
	creds := credsFunc(func(name string) (*secret.Token, bool) {
		return secret.NewToken("from-creds"), true
	})
	c := &Controller{Credentials: creds}
	tok, err := c.tokenFor(context.Background(), RegistryConfig{Name: "mirror"})
	require.NoError(t, err)
	require.Equal(t, "from-creds", tok.Value())
}

func TestTokenForUsesTrustedPublishingInCIWithNoOtherToken(t *testing.T) {
	trusted := &fakeTrusted{token: secret.NewToken("trusted-tok")}
	c := &Controller{CI: true, Trusted: trusted}
	tok, err := c.tokenFor(context.Background(), RegistryConfig{Name: "default", IsDefaultPublic: true})
	require.NoError(t, err)
	require.Equal(t, "trusted-tok", tok.Value())
	require.Equal(t, 1, trusted.acquireCalls)
}

func TestRunSharesAndRevokesTrustedTokenOnceAcrossPackages(t *testing.T) {
	idx := &fakeIndex{flip: true}
	pub := &fakePublisher{outcome: PublishOutcome{Stderr: "Uploading"}}
	trusted := &fakeTrusted{token: secret.NewToken("trusted-tok")}
	c := &Controller{
		Registries:      map[string]RegistryConfig{"default": {Name: "default", Index: idx, IsDefaultPublic: true}},
		Publisher:       pub,
		Trusted:         trusted,
		CI:              true,
		PublishTimeout:  time.Second,
		PublishInterval: 2 * time.Millisecond,
	}

	_, err := c.Run(context.Background(), []Package{pkg("a"), pkg("b")})
	require.NoError(t, err)
	require.Equal(t, 1, trusted.acquireCalls)
	require.Equal(t, 1, trusted.revokeCalls)
	require.Len(t, pub.calls, 2)
	for _, inv := range pub.calls {
		require.Equal(t, "trusted-tok", inv.Token.Value())
	}
}

func TestPrintOrder(t *testing.T) {
	order := PrintOrder([]Package{pkg("a"), pkg("b")})
	require.Equal(t, []OrderEntry{
		{Name: "a", Path: "/repo/a/manifest.toml"},
		{Name: "b", Path: "/repo/b/manifest.toml"},
	}, order)
}

type credsFunc func(registryName string) (*secret.Token, bool)

func (f credsFunc) Credential(registryName string) (*secret.Token, bool) { return f(registryName) }
