package releasepr

import (
	"context"
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/secana/k-releaser/internal/changelog"
	"github.com/secana/k-releaser/internal/conventional"
	"github.com/secana/k-releaser/internal/forge"
)

type stubForge struct {
	dialect    forge.Dialect
	openPRs    []forge.PullRequest
	createdPR  forge.PullRequest
	editCalled bool
	labels     []forge.Label
	added      []string
}

func (s *stubForge) Dialect() forge.Dialect { return s.dialect }
func (s *stubForge) ListOpenPRs(ctx context.Context, headPrefix string) ([]forge.PullRequest, error) {
	return s.openPRs, nil
}
func (s *stubForge) GetPR(ctx context.Context, number int) (forge.PullRequest, error) {
	return s.createdPR, nil
}
func (s *stubForge) EditPR(ctx context.Context, number int, edit forge.PREdit) error {
	s.editCalled = true
	return nil
}
func (s *stubForge) OpenPR(ctx context.Context, opts forge.OpenPROptions) (forge.PullRequest, error) {
	s.createdPR = forge.PullRequest{Number: 42, BaseBranch: opts.Base, HeadBranch: opts.Head, Title: opts.Title, Body: opts.Body, HTMLURL: "https://forge.example/pr/42"}
	return s.createdPR, nil
}
func (s *stubForge) ClosePR(ctx context.Context, number int) error { return nil }
func (s *stubForge) AddLabels(ctx context.Context, number int, labels []string) error {
	s.added = append(s.added, labels...)
	return nil
}
func (s *stubForge) ListRepoLabels(ctx context.Context) ([]forge.Label, error) { return s.labels, nil }
func (s *stubForge) CreateLabel(ctx context.Context, label forge.Label) error {
	s.labels = append(s.labels, label)
	return nil
}
func (s *stubForge) PRCommits(ctx context.Context, number int) ([]string, error) { return nil, nil }
func (s *stubForge) AssociatedPRs(ctx context.Context, commitSHA string) ([]forge.PullRequest, error) {
	return nil, forge.ErrNotFound
}
func (s *stubForge) GetRemoteCommit(ctx context.Context, sha string) (forge.RemoteCommit, error) {
	return forge.RemoteCommit{}, forge.ErrNotFound
}
func (s *stubForge) CreateBranch(ctx context.Context, name, fromSHA string) error { return nil }
func (s *stubForge) DeleteBranch(ctx context.Context, name string) error         { return nil }
func (s *stubForge) UpdateRef(ctx context.Context, name, sha string, force bool) error {
	return nil
}
func (s *stubForge) CreateAnnotatedTag(ctx context.Context, tag forge.Tag) error { return nil }
func (s *stubForge) CreateRelease(ctx context.Context, opts forge.CreateReleaseOptions) (forge.Release, error) {
	return forge.Release{}, nil
}

type stubManifestWriter struct {
	calls int
}

func (w *stubManifestWriter) SetVersion(path, packageName string, next *semver.Version) error {
	w.calls++
	return nil
}

func plan(name, currentVersion, nextVersion string) PackagePlan {
	cur := semver.MustParse(currentVersion)
	next := semver.MustParse(nextVersion)
	return PackagePlan{
		Name:           name,
		CurrentVersion: cur,
		NextVersion:    next,
		ManifestPath:   "/repo/" + name + "/manifest.toml",
		Commits: []changelog.Commit{
			{Commit: conventional.Parse("feat: add a thing\n"), PRNumber: 7},
		},
	}
}

func TestFingerprintStableAcrossCalls(t *testing.T) {
	plans := []PackagePlan{plan("a", "1.0.0", "1.1.0"), plan("b", "2.0.0", "2.1.0")}
	f1 := fingerprint(plans)
	f2 := fingerprint(plans)
	require.Equal(t, f1, f2)
}

func TestFingerprintDiffersOnDifferentVersions(t *testing.T) {
	p1 := []PackagePlan{plan("a", "1.0.0", "1.1.0")}
	p2 := []PackagePlan{plan("a", "1.0.0", "1.2.0")}
	require.NotEqual(t, fingerprint(p1), fingerprint(p2))
}

func TestBranchNameReusesPriorPR(t *testing.T) {
	prior := &forge.PullRequest{HeadBranch: "release/existing-branch"}
	name := branchName(prior, "release/", []PackagePlan{plan("a", "1.0.0", "1.1.0")})
	require.Equal(t, "release/existing-branch", name)
}

func TestDetectExistingErrorsOnMultiplePRs(t *testing.T) {
	sf := &stubForge{openPRs: []forge.PullRequest{{Number: 1}, {Number: 2}}}
	c := &Controller{Forge: sf}
	_, err := c.detectExisting(context.Background(), "release/")
	require.Error(t, err)
}

func TestRunOpensNewPRAndWritesChangelog(t *testing.T) {
	sf := &stubForge{dialect: forge.DialectA}
	mw := &stubManifestWriter{}
	fsys := afero.NewMemMapFs()

	c := &Controller{
		Forge:          sf,
		Repo:           newNoopExecRepo(t),
		ManifestWriter: mw,
		FS:             fsys,
	}

	p := plan("widget", "1.0.0", "1.1.0")
	p.ChangelogUpdateEnabled = true
	p.ChangelogPath = "/repo/widget/CHANGELOG.md"

	result, err := c.Run(context.Background(), Options{BranchPrefix: "release/", BaseBranch: "main"}, []PackagePlan{p})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 42, result.Number)
	require.Len(t, result.Releases, 1)
	require.Equal(t, "widget", result.Releases[0].PackageName)
	require.Equal(t, 1, mw.calls)

	data, err := afero.ReadFile(fsys, p.ChangelogPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "1.1.0")
}

func TestRunDryRunPerformsNoMutation(t *testing.T) {
	sf := &stubForge{dialect: forge.DialectA}
	mw := &stubManifestWriter{}
	fsys := afero.NewMemMapFs()
	c := &Controller{Forge: sf, ManifestWriter: mw, FS: fsys}

	p := plan("widget", "1.0.0", "1.1.0")
	p.ChangelogUpdateEnabled = true
	p.ChangelogPath = "/repo/widget/CHANGELOG.md"
	result, err := c.Run(context.Background(), Options{BranchPrefix: "release/", DryRun: true, Quiet: true}, []PackagePlan{p})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 0, mw.calls)
	require.Empty(t, sf.openPRs)

	_, statErr := fsys.Stat(p.ChangelogPath)
	require.Error(t, statErr, "dry-run must not write the changelog")
}

func TestRunReturnsNilForEmptyPlans(t *testing.T) {
	c := &Controller{}
	result, err := c.Run(context.Background(), Options{}, nil)
	require.NoError(t, err)
	require.Nil(t, result)
}

// newNoopExecRepo returns an in-memory GitOps stub: CheckoutNewBranch, Add
// and Push always succeed and Commit only rejects an empty message, so no
// repository is touched. The real git operations are covered by gitrepo's
// own tests; here it only proves Run's branching and changelog/manifest
// wiring.
func newNoopExecRepo(t *testing.T) *recordingExecRepo {
	t.Helper()
	return &recordingExecRepo{}
}

type recordingExecRepo struct{}

func (r *recordingExecRepo) CheckoutNewBranch(ctx context.Context, branch, base string) error {
	return nil
}
func (r *recordingExecRepo) Add(ctx context.Context, paths ...string) error { return nil }
func (r *recordingExecRepo) Commit(ctx context.Context, message string) error {
	if message == "" {
		return errors.New("empty commit message")
	}
	return nil
}
func (r *recordingExecRepo) Push(ctx context.Context, remote, ref string, force bool) error {
	return nil
}
