package releasectl

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/secana/k-releaser/internal/config"
	"github.com/secana/k-releaser/internal/forge"
)

type stubForge struct {
	dialect      forge.Dialect
	associated   []forge.PullRequest
	associatedEr error
	prCommits    map[int][]string
	prs          map[int]forge.PullRequest
	releases     []forge.CreateReleaseOptions
	tags         []forge.Tag
}

func (s *stubForge) Dialect() forge.Dialect { return s.dialect }
func (s *stubForge) ListOpenPRs(ctx context.Context, headPrefix string) ([]forge.PullRequest, error) {
	return nil, nil
}
func (s *stubForge) GetPR(ctx context.Context, number int) (forge.PullRequest, error) {
	return s.prs[number], nil
}
func (s *stubForge) EditPR(ctx context.Context, number int, edit forge.PREdit) error { return nil }
func (s *stubForge) OpenPR(ctx context.Context, opts forge.OpenPROptions) (forge.PullRequest, error) {
	return forge.PullRequest{}, nil
}
func (s *stubForge) ClosePR(ctx context.Context, number int) error                 { return nil }
func (s *stubForge) AddLabels(ctx context.Context, number int, labels []string) error { return nil }
func (s *stubForge) ListRepoLabels(ctx context.Context) ([]forge.Label, error)     { return nil, nil }
func (s *stubForge) CreateLabel(ctx context.Context, label forge.Label) error      { return nil }
func (s *stubForge) PRCommits(ctx context.Context, number int) ([]string, error) {
	return s.prCommits[number], nil
}
func (s *stubForge) AssociatedPRs(ctx context.Context, commitSHA string) ([]forge.PullRequest, error) {
	return s.associated, s.associatedEr
}
func (s *stubForge) GetRemoteCommit(ctx context.Context, sha string) (forge.RemoteCommit, error) {
	return forge.RemoteCommit{}, forge.ErrNotFound
}
func (s *stubForge) CreateBranch(ctx context.Context, name, fromSHA string) error { return nil }
func (s *stubForge) DeleteBranch(ctx context.Context, name string) error         { return nil }
func (s *stubForge) UpdateRef(ctx context.Context, name, sha string, force bool) error {
	return nil
}
func (s *stubForge) CreateAnnotatedTag(ctx context.Context, tag forge.Tag) error {
	s.tags = append(s.tags, tag)
	return nil
}
func (s *stubForge) CreateRelease(ctx context.Context, opts forge.CreateReleaseOptions) (forge.Release, error) {
	s.releases = append(s.releases, opts)
	return forge.Release{ID: "1", HTMLURL: "https://forge.example/releases/1"}, nil
}

type stubChecker struct {
	exists map[string]bool
}

func (c stubChecker) CommitExists(ctx context.Context, sha string) (bool, error) {
	return c.exists[sha], nil
}

func TestShouldReleaseNoAssociatedPRNotAlways(t *testing.T) {
	sf := &stubForge{associatedEr: forge.ErrNotFound}
	v, err := ShouldRelease(context.Background(), sf, stubChecker{}, "abc", "release/", false)
	require.NoError(t, err)
	require.Equal(t, DecisionNo, v.Decision)
}

func TestShouldReleaseNoAssociatedPRButAlwaysRelease(t *testing.T) {
	sf := &stubForge{associatedEr: forge.ErrNotFound}
	v, err := ShouldRelease(context.Background(), sf, stubChecker{}, "abc", "release/", true)
	require.NoError(t, err)
	require.Equal(t, DecisionYes, v.Decision)
}

func TestShouldReleaseWithCommitWhenPreMergeExists(t *testing.T) {
	sf := &stubForge{
		associated: []forge.PullRequest{{Number: 9, HeadBranch: "release/abcdef"}},
		prCommits:  map[int][]string{9: {"sha1", "sha2", "sha3"}},
	}
	checker := stubChecker{exists: map[string]bool{"sha3": true}}
	v, err := ShouldRelease(context.Background(), sf, checker, "mergecommit", "release/", false)
	require.NoError(t, err)
	require.Equal(t, DecisionYesWithCommit, v.Decision)
	require.Equal(t, "sha3", v.CommitSHA)
}

func TestShouldReleaseFallsBackWhenPreMergeMissingSquash(t *testing.T) {
	sf := &stubForge{
		associated: []forge.PullRequest{{Number: 9, HeadBranch: "release/abcdef"}},
		prCommits:  map[int][]string{9: {"sha1", "sha2", "sha3"}},
	}
	checker := stubChecker{exists: map[string]bool{}}
	v, err := ShouldRelease(context.Background(), sf, checker, "mergecommit", "release/", false)
	require.NoError(t, err)
	require.Equal(t, DecisionYes, v.Decision)
}

func TestShouldReleaseIgnoresUnrelatedPR(t *testing.T) {
	sf := &stubForge{
		associated: []forge.PullRequest{{Number: 9, HeadBranch: "feature/other"}},
	}
	v, err := ShouldRelease(context.Background(), sf, stubChecker{}, "sha", "release/", false)
	require.NoError(t, err)
	require.Equal(t, DecisionNo, v.Decision)
}

type fakeTagOps struct {
	fetchCalled  bool
	signed       bool
	createdTags  []string
	pushedRefs   []string
	checkouts    []string
	revParseHEAD string
}

func (f *fakeTagOps) FetchTags(ctx context.Context, remote string) error {
	f.fetchCalled = true
	return nil
}
func (f *fakeTagOps) TagSigningConfigured(ctx context.Context) bool { return f.signed }
func (f *fakeTagOps) CreateAnnotatedTag(ctx context.Context, name, message string) error {
	f.createdTags = append(f.createdTags, name)
	return nil
}
func (f *fakeTagOps) RevParse(ctx context.Context, ref string) (string, error) {
	if ref == "HEAD" {
		return f.revParseHEAD, nil
	}
	return ref, nil
}
func (f *fakeTagOps) Checkout(ctx context.Context, ref string) error {
	f.checkouts = append(f.checkouts, ref)
	return nil
}
func (f *fakeTagOps) Push(ctx context.Context, remote, ref string, force bool) error {
	f.pushedRefs = append(f.pushedRefs, ref)
	return nil
}

type fakeTagLister struct {
	tags []string
}

func (f fakeTagLister) ListTags() ([]string, error) { return f.tags, nil }

func TestRunSkipsPackageWithExistingTag(t *testing.T) {
	sf := &stubForge{}
	git := &fakeTagOps{revParseHEAD: "deadbeef"}
	c := &Controller{Forge: sf, Git: git, Tags: fakeTagLister{tags: []string{"widget-v1.0.0"}}}

	pkg := PackageRelease{
		Name: "widget", Version: semver.MustParse("1.0.0"), TagName: "widget-v1.0.0",
		TagEnabled: true, ReleaseEnabled: true,
	}
	result, err := c.Run(context.Background(), Verdict{Decision: DecisionYes}, []PackageRelease{pkg})
	require.NoError(t, err)
	require.Empty(t, result.Releases)
	require.Empty(t, sf.releases)
	require.Empty(t, git.createdTags)
}

func TestRunCreatesTagViaForgeWhenNotSigned(t *testing.T) {
	sf := &stubForge{}
	git := &fakeTagOps{revParseHEAD: "deadbeef", signed: false}
	c := &Controller{Forge: sf, Git: git, Tags: fakeTagLister{}}

	pkg := PackageRelease{
		Name: "widget", Version: semver.MustParse("1.0.0"), TagName: "widget-v1.0.0",
		ReleaseName: "widget 1.0.0", TagEnabled: true, ReleaseEnabled: true,
		ReleaseType: config.ReleaseTypeAuto, ChangelogEntry: "- did a thing",
	}
	result, err := c.Run(context.Background(), Verdict{Decision: DecisionYes}, []PackageRelease{pkg})
	require.NoError(t, err)
	require.Len(t, result.Releases, 1)
	require.Equal(t, "widget-v1.0.0", result.Releases[0].Tag)
	require.Len(t, sf.tags, 1)
	require.Equal(t, "widget-v1.0.0", sf.tags[0].Name)
	require.Len(t, sf.releases, 1)
	require.False(t, sf.releases[0].Prerelease)
}

func TestRunCreatesTagLocallyWhenSigned(t *testing.T) {
	sf := &stubForge{}
	git := &fakeTagOps{revParseHEAD: "deadbeef", signed: true}
	c := &Controller{Forge: sf, Git: git, Tags: fakeTagLister{}}

	pkg := PackageRelease{
		Name: "widget", Version: semver.MustParse("1.0.0"), TagName: "widget-v1.0.0",
		TagEnabled: true,
	}
	_, err := c.Run(context.Background(), Verdict{Decision: DecisionYes}, []PackageRelease{pkg})
	require.NoError(t, err)
	require.Empty(t, sf.tags)
	require.Equal(t, []string{"widget-v1.0.0"}, git.createdTags)
	require.Equal(t, []string{"refs/tags/widget-v1.0.0"}, git.pushedRefs)
}

func TestRunHonorsCheckoutDisciplineOnYesWithCommit(t *testing.T) {
	sf := &stubForge{}
	git := &fakeTagOps{revParseHEAD: "current-head"}
	c := &Controller{Forge: sf, Git: git, Tags: fakeTagLister{}}

	_, err := c.Run(context.Background(), Verdict{Decision: DecisionYesWithCommit, CommitSHA: "premerge-sha"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"premerge-sha", "current-head"}, git.checkouts)
}

func TestRunDryRunDoesNotMutateForge(t *testing.T) {
	sf := &stubForge{}
	git := &fakeTagOps{revParseHEAD: "deadbeef"}
	c := &Controller{Forge: sf, Git: git, Tags: fakeTagLister{}, DryRun: true}

	pkg := PackageRelease{
		Name: "widget", Version: semver.MustParse("1.0.0"), TagName: "widget-v1.0.0",
		TagEnabled: true, ReleaseEnabled: true,
	}
	_, err := c.Run(context.Background(), Verdict{Decision: DecisionYes}, []PackageRelease{pkg})
	require.NoError(t, err)
	require.Empty(t, sf.tags)
	require.Empty(t, sf.releases)
	require.Empty(t, git.createdTags)
}

func TestPrereleaseFlagFromReleaseType(t *testing.T) {
	sf := &stubForge{}
	git := &fakeTagOps{revParseHEAD: "deadbeef"}
	c := &Controller{Forge: sf, Git: git, Tags: fakeTagLister{}}

	pkg := PackageRelease{
		Name: "widget", Version: semver.MustParse("1.0.0-rc.1"), TagName: "widget-v1.0.0-rc.1",
		ReleaseEnabled: true, ReleaseType: config.ReleaseTypeAuto,
	}
	_, err := c.Run(context.Background(), Verdict{Decision: DecisionYes}, []PackageRelease{pkg})
	require.NoError(t, err)
	require.True(t, sf.releases[0].Prerelease)
}
