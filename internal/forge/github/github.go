// Package github implements the forge.Forge interface for dialect A
// (GitHub-shaped): oauth2 transport, go-github client, owner/repo scoping.
package github

import (
	"context"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	ghclient "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"github.com/secana/k-releaser/internal/forge"
)

// associatedPRsCacheSize bounds the in-process LRU cache for
// AssociatedPRs/GetRemoteCommit lookups. The cache lives for one process;
// the client itself keeps no state between runs.
const associatedPRsCacheSize = 512

// Forge is the dialect-A (GitHub) implementation.
type Forge struct {
	client *ghclient.Client
	Owner  string
	Repo   string

	prCache  *lru.Cache[string, []forge.PullRequest]
	commitCh *lru.Cache[string, forge.RemoteCommit]
}

// New builds a GitHub-backed Forge. token may be empty for public,
// read-only access.
func New(ctx context.Context, token, owner, repo string) *Forge {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	prCache, _ := lru.New[string, []forge.PullRequest](associatedPRsCacheSize)
	commitCh, _ := lru.New[string, forge.RemoteCommit](associatedPRsCacheSize)
	return &Forge{
		client:   ghclient.NewClient(httpClient),
		Owner:    owner,
		Repo:     repo,
		prCache:  prCache,
		commitCh: commitCh,
	}
}

func (f *Forge) Dialect() forge.Dialect { return forge.DialectA }

func toState(s forge.PRState) string {
	if s == forge.PRStateOpen {
		return "open"
	}
	return "closed"
}

func fromPR(pr *ghclient.PullRequest) forge.PullRequest {
	state := forge.PRStateClosed
	switch {
	case pr.GetMerged():
		state = forge.PRStateMerged
	case pr.GetState() == "open":
		state = forge.PRStateOpen
	}
	var labels []string
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	return forge.PullRequest{
		Number:     pr.GetNumber(),
		BaseBranch: pr.GetBase().GetRef(),
		HeadBranch: pr.GetHead().GetRef(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		Labels:     labels,
		Author:     pr.GetUser().GetLogin(),
		State:      state,
		HTMLURL:    pr.GetHTMLURL(),
	}
}

// ListOpenPRs lists every open PR whose head branch starts with headPrefix
//, paginating with the "per_page" query key this dialect
// uses.
func (f *Forge) ListOpenPRs(ctx context.Context, headPrefix string) ([]forge.PullRequest, error) {
	var out []forge.PullRequest
	opts := &ghclient.PullRequestListOptions{
		State:       "open",
		ListOptions: ghclient.ListOptions{PerPage: 100},
	}
	for {
		var prs []*ghclient.PullRequest
		err := forge.Do(ctx, func(ctx context.Context) error {
			var resp *ghclient.Response
			var callErr error
			prs, resp, callErr = f.client.PullRequests.List(ctx, f.Owner, f.Repo, opts)
			if callErr != nil {
				return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
			}
			opts.Page = resp.NextPage
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing open PRs: %w", err)
		}
		for _, pr := range prs {
			head := pr.GetHead().GetRef()
			if len(head) >= len(headPrefix) && head[:len(headPrefix)] == headPrefix {
				out = append(out, fromPR(pr))
			}
		}
		if opts.Page == 0 {
			break
		}
	}
	return out, nil
}

func (f *Forge) GetPR(ctx context.Context, number int) (forge.PullRequest, error) {
	var pr *ghclient.PullRequest
	err := forge.Do(ctx, func(ctx context.Context) error {
		var resp *ghclient.Response
		var callErr error
		pr, resp, callErr = f.client.PullRequests.Get(ctx, f.Owner, f.Repo, number)
		if callErr != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
		}
		return nil
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("getting PR #%d: %w", number, err)
	}
	return fromPR(pr), nil
}

func (f *Forge) EditPR(ctx context.Context, number int, edit forge.PREdit) error {
	update := &ghclient.PullRequest{}
	if edit.Title != nil {
		update.Title = edit.Title
	}
	if edit.Body != nil {
		update.Body = edit.Body
	}
	if edit.State != nil {
		state := toState(*edit.State)
		update.State = &state
	}
	return forge.Do(ctx, func(ctx context.Context) error {
		_, resp, err := f.client.PullRequests.Edit(ctx, f.Owner, f.Repo, number, update)
		if err != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		return nil
	})
}

func (f *Forge) OpenPR(ctx context.Context, opts forge.OpenPROptions) (forge.PullRequest, error) {
	var pr *ghclient.PullRequest
	err := forge.Do(ctx, func(ctx context.Context) error {
		var resp *ghclient.Response
		var callErr error
		pr, resp, callErr = f.client.PullRequests.Create(ctx, f.Owner, f.Repo, &ghclient.NewPullRequest{
			Title: &opts.Title,
			Head:  &opts.Head,
			Base:  &opts.Base,
			Body:  &opts.Body,
		})
		if callErr != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
		}
		return nil
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("opening PR: %w", err)
	}
	return fromPR(pr), nil
}

func (f *Forge) ClosePR(ctx context.Context, number int) error {
	closed := forge.PRStateClosed
	return f.EditPR(ctx, number, forge.PREdit{State: &closed})
}

func (f *Forge) AddLabels(ctx context.Context, number int, labels []string) error {
	return forge.Do(ctx, func(ctx context.Context) error {
		_, resp, err := f.client.Issues.AddLabelsToIssue(ctx, f.Owner, f.Repo, number, labels)
		if err != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		return nil
	})
}

func (f *Forge) ListRepoLabels(ctx context.Context) ([]forge.Label, error) {
	var out []forge.Label
	opts := &ghclient.ListOptions{PerPage: 100}
	for {
		var labels []*ghclient.Label
		err := forge.Do(ctx, func(ctx context.Context) error {
			var resp *ghclient.Response
			var callErr error
			labels, resp, callErr = f.client.Issues.ListLabels(ctx, f.Owner, f.Repo, opts)
			if callErr != nil {
				return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
			}
			opts.Page = resp.NextPage
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing repo labels: %w", err)
		}
		for _, l := range labels {
			out = append(out, forge.Label{Name: l.GetName(), Color: l.GetColor(), Description: l.GetDescription()})
		}
		if opts.Page == 0 {
			break
		}
	}
	return out, nil
}

// CreateLabel creates a repository label. GitHub's dialect does not need it
// (labels are created implicitly when added to a PR), but the engine may
// still call it as part of a dialect-agnostic reconcile loop; a 422
// "already exists" is swallowed, so the call is idempotent.
func (f *Forge) CreateLabel(ctx context.Context, label forge.Label) error {
	return forge.Do(ctx, func(ctx context.Context) error {
		_, resp, err := f.client.Issues.CreateLabel(ctx, f.Owner, f.Repo, &ghclient.Label{
			Name:        &label.Name,
			Color:       &label.Color,
			Description: &label.Description,
		})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
				return nil // already exists
			}
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		return nil
	})
}

func (f *Forge) PRCommits(ctx context.Context, number int) ([]string, error) {
	var shas []string
	opts := &ghclient.ListOptions{PerPage: 100}
	for {
		var commits []*ghclient.RepositoryCommit
		err := forge.Do(ctx, func(ctx context.Context) error {
			var resp *ghclient.Response
			var callErr error
			commits, resp, callErr = f.client.PullRequests.ListCommits(ctx, f.Owner, f.Repo, number, opts)
			if callErr != nil {
				return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
			}
			opts.Page = resp.NextPage
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing commits for PR #%d: %w", number, err)
		}
		for _, c := range commits {
			shas = append(shas, c.GetSHA())
		}
		if opts.Page == 0 {
			break
		}
	}
	return shas, nil
}

func (f *Forge) AssociatedPRs(ctx context.Context, commitSHA string) ([]forge.PullRequest, error) {
	if cached, ok := f.prCache.Get(commitSHA); ok {
		return cached, nil
	}
	var prs []*ghclient.PullRequest
	err := forge.Do(ctx, func(ctx context.Context) error {
		var resp *ghclient.Response
		var callErr error
		prs, resp, callErr = f.client.PullRequests.ListPullRequestsWithCommit(ctx, f.Owner, f.Repo, commitSHA, &ghclient.ListOptions{PerPage: 100})
		if callErr != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
		}
		return nil
	})
	if err == forge.ErrNotFound {
		return nil, forge.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("listing PRs for commit %s: %w", commitSHA, err)
	}
	out := make([]forge.PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, fromPR(pr))
	}
	f.prCache.Add(commitSHA, out)
	return out, nil
}

func (f *Forge) GetRemoteCommit(ctx context.Context, sha string) (forge.RemoteCommit, error) {
	if cached, ok := f.commitCh.Get(sha); ok {
		return cached, nil
	}
	var commit *ghclient.RepositoryCommit
	err := forge.Do(ctx, func(ctx context.Context) error {
		var resp *ghclient.Response
		var callErr error
		commit, resp, callErr = f.client.Repositories.GetCommit(ctx, f.Owner, f.Repo, sha, nil)
		if callErr != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
		}
		return nil
	})
	if err == forge.ErrNotFound {
		return forge.RemoteCommit{}, forge.ErrNotFound
	}
	if err != nil {
		return forge.RemoteCommit{}, fmt.Errorf("getting remote commit %s: %w", sha, err)
	}
	result := forge.RemoteCommit{SHA: commit.GetSHA()}
	f.commitCh.Add(sha, result)
	return result, nil
}

func (f *Forge) CreateBranch(ctx context.Context, name, fromSHA string) error {
	ref := "refs/heads/" + name
	return forge.Do(ctx, func(ctx context.Context) error {
		_, resp, err := f.client.Git.CreateRef(ctx, f.Owner, f.Repo, &ghclient.Reference{
			Ref:    &ref,
			Object: &ghclient.GitObject{SHA: &fromSHA},
		})
		if err != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		return nil
	})
}

func (f *Forge) DeleteBranch(ctx context.Context, name string) error {
	return forge.Do(ctx, func(ctx context.Context) error {
		resp, err := f.client.Git.DeleteRef(ctx, f.Owner, f.Repo, "refs/heads/"+name)
		if err != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		return nil
	})
}

func (f *Forge) UpdateRef(ctx context.Context, name, sha string, force bool) error {
	ref := "refs/heads/" + name
	return forge.Do(ctx, func(ctx context.Context) error {
		_, resp, err := f.client.Git.UpdateRef(ctx, f.Owner, f.Repo, &ghclient.Reference{
			Ref:    &ref,
			Object: &ghclient.GitObject{SHA: &sha},
		}, force)
		if err != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		return nil
	})
}

func (f *Forge) CreateAnnotatedTag(ctx context.Context, tag forge.Tag) error {
	tagType := "commit"
	return forge.Do(ctx, func(ctx context.Context) error {
		created, resp, err := f.client.Git.CreateTag(ctx, f.Owner, f.Repo, &ghclient.Tag{
			Tag:     &tag.Name,
			Message: &tag.AnnotatedBody,
			Object:  &ghclient.GitObject{SHA: &tag.TargetSHA, Type: &tagType},
		})
		if err != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		ref := "refs/tags/" + tag.Name
		_, resp, err = f.client.Git.CreateRef(ctx, f.Owner, f.Repo, &ghclient.Reference{
			Ref:    &ref,
			Object: &ghclient.GitObject{SHA: created.SHA},
		})
		if err != nil {
			return forge.ClassifyHTTPStatus(statusOf(resp), err)
		}
		return nil
	})
}

func (f *Forge) CreateRelease(ctx context.Context, opts forge.CreateReleaseOptions) (forge.Release, error) {
	release := &ghclient.RepositoryRelease{
		TagName:    &opts.TagName,
		Name:       &opts.Name,
		Body:       &opts.Body,
		Draft:      &opts.Draft,
		Prerelease: &opts.Prerelease,
	}
	if opts.Latest != nil {
		val := "false"
		if *opts.Latest {
			val = "true"
		}
		release.MakeLatest = &val
	}
	var created *ghclient.RepositoryRelease
	err := forge.Do(ctx, func(ctx context.Context) error {
		var resp *ghclient.Response
		var callErr error
		created, resp, callErr = f.client.Repositories.CreateRelease(ctx, f.Owner, f.Repo, release)
		if callErr != nil {
			if resp != nil && resp.StatusCode == http.StatusForbidden {
				return fmt.Errorf("forge rejected release creation (403): check token permissions: %w", callErr)
			}
			return forge.ClassifyHTTPStatus(statusOf(resp), callErr)
		}
		return nil
	})
	if err != nil {
		return forge.Release{}, fmt.Errorf("creating release %s: %w", opts.TagName, err)
	}
	return forge.Release{ID: fmt.Sprintf("%d", created.GetID()), HTMLURL: created.GetHTMLURL()}, nil
}

func statusOf(resp *ghclient.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
