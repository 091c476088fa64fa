// Package dialectc implements forge.Forge for dialect C: PR state token
// "open" with close verb "closed" (same tokens as dialect A), draft
// honored, latest unsupported, and AssociatedPRs mapping the full list of
// merge requests for a commit rather than a single one.
package dialectc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/secana/k-releaser/internal/forge"
)

// Forge talks to a dialect-C forge's REST API over HTTP with go-resty.
type Forge struct {
	client *resty.Client
	Repo   string
}

func New(baseURL, token, repo string) *Forge {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Forge{client: c, Repo: repo}
}

func (f *Forge) Dialect() forge.Dialect { return forge.DialectC }

type prPayload struct {
	Number int `json:"number"`
	Head   struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	State   string `json:"state"` // "open" | "closed"
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
}

func fromPR(p prPayload) forge.PullRequest {
	state := forge.PRStateClosed
	switch {
	case p.Merged:
		state = forge.PRStateMerged
	case p.State == "open":
		state = forge.PRStateOpen
	}
	var labels []string
	for _, l := range p.Labels {
		labels = append(labels, l.Name)
	}
	return forge.PullRequest{
		Number:     p.Number,
		BaseBranch: p.Base.Ref,
		HeadBranch: p.Head.Ref,
		Title:      p.Title,
		Body:       p.Body,
		Labels:     labels,
		Author:     p.User.Login,
		State:      state,
		HTMLURL:    p.HTMLURL,
	}
}

func (f *Forge) doJSON(ctx context.Context, result any, build func(*resty.Request) (*resty.Response, error)) error {
	return forge.Do(ctx, func(ctx context.Context) error {
		req := f.client.R().SetContext(ctx)
		if result != nil {
			req.SetResult(result)
		}
		resp, err := build(req)
		if err != nil {
			return forge.Transient(err)
		}
		if resp.IsSuccess() {
			return nil
		}
		return forge.ClassifyHTTPStatus(resp.StatusCode(), fmt.Errorf("dialect c request failed: %s", resp.Status()))
	})
}

func (f *Forge) ListOpenPRs(ctx context.Context, headPrefix string) ([]forge.PullRequest, error) {
	var prs []prPayload
	err := f.doJSON(ctx, &prs, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(map[string]string{
			"state":    "open",
			"per_page": "100",
		}).Get("/repos/" + f.Repo + "/pulls")
	})
	if err != nil {
		return nil, fmt.Errorf("listing open PRs: %w", err)
	}
	var out []forge.PullRequest
	for _, p := range prs {
		if len(p.Head.Ref) >= len(headPrefix) && p.Head.Ref[:len(headPrefix)] == headPrefix {
			out = append(out, fromPR(p))
		}
	}
	return out, nil
}

func (f *Forge) GetPR(ctx context.Context, number int) (forge.PullRequest, error) {
	var p prPayload
	err := f.doJSON(ctx, &p, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/repos/%s/pulls/%d", f.Repo, number))
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("getting PR #%d: %w", number, err)
	}
	return fromPR(p), nil
}

func (f *Forge) EditPR(ctx context.Context, number int, edit forge.PREdit) error {
	body := map[string]any{}
	if edit.Title != nil {
		body["title"] = *edit.Title
	}
	if edit.Body != nil {
		body["body"] = *edit.Body
	}
	if edit.State != nil {
		if *edit.State == forge.PRStateClosed {
			body["state"] = "closed"
		} else {
			body["state"] = "open"
		}
	}
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).Patch(fmt.Sprintf("/repos/%s/pulls/%d", f.Repo, number))
	})
}

func (f *Forge) OpenPR(ctx context.Context, opts forge.OpenPROptions) (forge.PullRequest, error) {
	var p prPayload
	err := f.doJSON(ctx, &p, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"head":  opts.Head,
			"base":  opts.Base,
			"title": opts.Title,
			"body":  opts.Body,
		}).Post("/repos/" + f.Repo + "/pulls")
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("opening PR: %w", err)
	}
	return fromPR(p), nil
}

func (f *Forge) ClosePR(ctx context.Context, number int) error {
	closed := forge.PRStateClosed
	return f.EditPR(ctx, number, forge.PREdit{State: &closed})
}

func (f *Forge) AddLabels(ctx context.Context, number int, labels []string) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"labels": labels}).
			Post(fmt.Sprintf("/repos/%s/issues/%d/labels", f.Repo, number))
	})
}

func (f *Forge) ListRepoLabels(ctx context.Context) ([]forge.Label, error) {
	var labels []forge.Label
	err := f.doJSON(ctx, &labels, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/repos/" + f.Repo + "/labels")
	})
	if err != nil {
		return nil, fmt.Errorf("listing repo labels: %w", err)
	}
	return labels, nil
}

// CreateLabel is not strictly required on dialect C (labels may be created
// implicitly like dialect A), but it's still wired so a dialect-agnostic
// reconcile loop works uniformly; a 422 "already exists" is swallowed.
func (f *Forge) CreateLabel(ctx context.Context, label forge.Label) error {
	return forge.Do(ctx, func(ctx context.Context) error {
		resp, err := f.client.R().SetContext(ctx).SetBody(label).Post("/repos/" + f.Repo + "/labels")
		if err != nil {
			return forge.Transient(err)
		}
		if resp.IsSuccess() || resp.StatusCode() == http.StatusUnprocessableEntity {
			return nil // created, or already exists
		}
		return forge.ClassifyHTTPStatus(resp.StatusCode(), fmt.Errorf("dialect c request failed: %s", resp.Status()))
	})
}

func (f *Forge) PRCommits(ctx context.Context, number int) ([]string, error) {
	var commits []struct {
		SHA string `json:"sha"`
	}
	err := f.doJSON(ctx, &commits, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/repos/%s/pulls/%d/commits", f.Repo, number))
	})
	if err != nil {
		return nil, fmt.Errorf("listing commits for PR #%d: %w", number, err)
	}
	shas := make([]string, 0, len(commits))
	for _, c := range commits {
		shas = append(shas, c.SHA)
	}
	return shas, nil
}

// AssociatedPRs maps the full list of merge requests associated with a
// commit on dialect C (on C it maps merge requests).
func (f *Forge) AssociatedPRs(ctx context.Context, commitSHA string) ([]forge.PullRequest, error) {
	var prs []prPayload
	err := f.doJSON(ctx, &prs, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/repos/%s/commits/%s/pulls", f.Repo, commitSHA))
	})
	if err == forge.ErrNotFound {
		return nil, forge.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("listing PRs for commit %s: %w", commitSHA, err)
	}
	out := make([]forge.PullRequest, 0, len(prs))
	for _, p := range prs {
		out = append(out, fromPR(p))
	}
	return out, nil
}

func (f *Forge) GetRemoteCommit(ctx context.Context, sha string) (forge.RemoteCommit, error) {
	var result struct {
		SHA string `json:"sha"`
	}
	err := f.doJSON(ctx, &result, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/repos/%s/commits/%s", f.Repo, sha))
	})
	if err == forge.ErrNotFound {
		return forge.RemoteCommit{}, forge.ErrNotFound
	}
	if err != nil {
		return forge.RemoteCommit{}, fmt.Errorf("getting remote commit %s: %w", sha, err)
	}
	return forge.RemoteCommit{SHA: result.SHA}, nil
}

func (f *Forge) CreateBranch(ctx context.Context, name, fromSHA string) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"new_branch_name": name, "old_ref_name": fromSHA}).
			Post("/repos/" + f.Repo + "/branches")
	})
}

func (f *Forge) DeleteBranch(ctx context.Context, name string) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.Delete("/repos/" + f.Repo + "/branches/" + name)
	})
}

func (f *Forge) UpdateRef(ctx context.Context, name, sha string, force bool) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"sha": sha, "force": force}).
			Patch("/repos/" + f.Repo + "/git/refs/heads/" + name)
	})
}

func (f *Forge) CreateAnnotatedTag(ctx context.Context, tag forge.Tag) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"tag_name": tag.Name,
			"target":   tag.TargetSHA,
			"message":  tag.AnnotatedBody,
		}).Post("/repos/" + f.Repo + "/tags")
	})
}

// CreateRelease honors Draft but rejects Latest
// the same as dialect B.
func (f *Forge) CreateRelease(ctx context.Context, opts forge.CreateReleaseOptions) (forge.Release, error) {
	if opts.Latest != nil {
		return forge.Release{}, forge.ErrLatestUnsupported
	}
	var result struct {
		ID      int64  `json:"id"`
		HTMLURL string `json:"html_url"`
	}
	err := f.doJSON(ctx, &result, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"tag_name":   opts.TagName,
			"name":       opts.Name,
			"body":       opts.Body,
			"draft":      opts.Draft,
			"prerelease": opts.Prerelease,
		}).Post("/repos/" + f.Repo + "/releases")
	})
	if err != nil {
		return forge.Release{}, fmt.Errorf("creating release %s: %w", opts.TagName, err)
	}
	return forge.Release{ID: fmt.Sprintf("%d", result.ID), HTMLURL: result.HTMLURL}, nil
}
