// Package dialectb implements forge.Forge for dialect B: PR state token
// "opened" (not "open"), close verb "close", pagination query key "limit",
// required label creation before attachment, draft/latest unsupported, and
// AssociatedPRs returning at most a single PR.
package dialectb

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/secana/k-releaser/internal/forge"
)

// Forge talks to a dialect-B forge's REST API over HTTP with go-resty;
// there is no maintained SDK for this dialect worth generating against.
type Forge struct {
	client *resty.Client
	Repo   string // "owner/repo" slug
}

// New builds a dialect-B Forge against baseURL (e.g. a self-hosted
// instance), authenticating with token via a bearer header.
func New(baseURL, token, repo string) *Forge {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Forge{client: c, Repo: repo}
}

func (f *Forge) Dialect() forge.Dialect { return forge.DialectB }

type mrPayload struct {
	IID          int      `json:"iid"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Labels       []string `json:"labels"`
	Author       struct {
		Username string `json:"username"`
	} `json:"author"`
	State  string `json:"state"` // "opened" | "merged" | "closed"
	WebURL string `json:"web_url"`
}

func fromMR(m mrPayload) forge.PullRequest {
	state := forge.PRStateClosed
	switch m.State {
	case "opened":
		state = forge.PRStateOpen
	case "merged":
		state = forge.PRStateMerged
	}
	return forge.PullRequest{
		Number:     m.IID,
		BaseBranch: m.TargetBranch,
		HeadBranch: m.SourceBranch,
		Title:      m.Title,
		Body:       m.Description,
		Labels:     m.Labels,
		Author:     m.Author.Username,
		State:      state,
		HTMLURL:    m.WebURL,
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
		return forge.ClassifyHTTPStatus(resp.StatusCode(), fmt.Errorf("dialect b request failed: %s", resp.Status()))
	})
}

func (f *Forge) ListOpenPRs(ctx context.Context, headPrefix string) ([]forge.PullRequest, error) {
	var mrs []mrPayload
	err := f.doJSON(ctx, &mrs, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(map[string]string{
			"state": "opened",
			"limit": "100", // dialect-B pagination key
		}).Get("/projects/" + f.Repo + "/merge_requests")
	})
	if err != nil {
		return nil, fmt.Errorf("listing open PRs: %w", err)
	}
	var out []forge.PullRequest
	for _, m := range mrs {
		if len(m.SourceBranch) >= len(headPrefix) && m.SourceBranch[:len(headPrefix)] == headPrefix {
			out = append(out, fromMR(m))
		}
	}
	return out, nil
}

func (f *Forge) GetPR(ctx context.Context, number int) (forge.PullRequest, error) {
	var mr mrPayload
	err := f.doJSON(ctx, &mr, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/projects/%s/merge_requests/%d", f.Repo, number))
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("getting PR #%d: %w", number, err)
	}
	return fromMR(mr), nil
}

func (f *Forge) EditPR(ctx context.Context, number int, edit forge.PREdit) error {
	body := map[string]any{}
	if edit.Title != nil {
		body["title"] = *edit.Title
	}
	if edit.Body != nil {
		body["description"] = *edit.Body
	}
	if edit.State != nil {
		// dialect B's close verb is "close", not "closed".
		if *edit.State == forge.PRStateClosed {
			body["state_event"] = "close"
		} else {
			body["state_event"] = "reopen"
		}
	}
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).Put(fmt.Sprintf("/projects/%s/merge_requests/%d", f.Repo, number))
	})
}

func (f *Forge) OpenPR(ctx context.Context, opts forge.OpenPROptions) (forge.PullRequest, error) {
	var mr mrPayload
	err := f.doJSON(ctx, &mr, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"source_branch": opts.Head,
			"target_branch": opts.Base,
			"title":         opts.Title,
			"description":   opts.Body,
		}).Post("/projects/" + f.Repo + "/merge_requests")
	})
	if err != nil {
		return forge.PullRequest{}, fmt.Errorf("opening PR: %w", err)
	}
	return fromMR(mr), nil
}

func (f *Forge) ClosePR(ctx context.Context, number int) error {
	closed := forge.PRStateClosed
	return f.EditPR(ctx, number, forge.PREdit{State: &closed})
}

func (f *Forge) AddLabels(ctx context.Context, number int, labels []string) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"add_labels": labels}).
			Put(fmt.Sprintf("/projects/%s/merge_requests/%d", f.Repo, number))
	})
}

func (f *Forge) ListRepoLabels(ctx context.Context) ([]forge.Label, error) {
	var labels []forge.Label
	err := f.doJSON(ctx, &labels, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/projects/" + f.Repo + "/labels")
	})
	if err != nil {
		return nil, fmt.Errorf("listing repo labels: %w", err)
	}
	return labels, nil
}

// CreateLabel is required on dialect B: labels are forge-level entities
// that must exist before AddLabels can attach them.
func (f *Forge) CreateLabel(ctx context.Context, label forge.Label) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(label).Post("/projects/" + f.Repo + "/labels")
	})
}

func (f *Forge) PRCommits(ctx context.Context, number int) ([]string, error) {
	var commits []struct {
		ID string `json:"id"`
	}
	err := f.doJSON(ctx, &commits, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/projects/%s/merge_requests/%d/commits", f.Repo, number))
	})
	if err != nil {
		return nil, fmt.Errorf("listing commits for PR #%d: %w", number, err)
	}
	shas := make([]string, 0, len(commits))
	for _, c := range commits {
		shas = append(shas, c.ID)
	}
	return shas, nil
}

// AssociatedPRs returns at most a single PR on dialect B (on B the
// current implementation returns a single PR).
func (f *Forge) AssociatedPRs(ctx context.Context, commitSHA string) ([]forge.PullRequest, error) {
	var mrs []mrPayload
	err := f.doJSON(ctx, &mrs, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/projects/%s/repository/commits/%s/merge_requests", f.Repo, commitSHA))
	})
	if err == forge.ErrNotFound {
		return nil, forge.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("listing PRs for commit %s: %w", commitSHA, err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return []forge.PullRequest{fromMR(mrs[0])}, nil
}

func (f *Forge) GetRemoteCommit(ctx context.Context, sha string) (forge.RemoteCommit, error) {
	var result struct {
		ID string `json:"id"`
	}
	err := f.doJSON(ctx, &result, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/projects/%s/repository/commits/%s", f.Repo, sha))
	})
	if err == forge.ErrNotFound {
		return forge.RemoteCommit{}, forge.ErrNotFound
	}
	if err != nil {
		return forge.RemoteCommit{}, fmt.Errorf("getting remote commit %s: %w", sha, err)
	}
	return forge.RemoteCommit{SHA: result.ID}, nil
}

func (f *Forge) CreateBranch(ctx context.Context, name, fromSHA string) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"branch": name, "ref": fromSHA}).
			Post("/projects/" + f.Repo + "/repository/branches")
	})
}

func (f *Forge) DeleteBranch(ctx context.Context, name string) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.Delete("/projects/" + f.Repo + "/repository/branches/" + name)
	})
}

func (f *Forge) UpdateRef(ctx context.Context, name, sha string, force bool) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"sha": sha, "force": force}).
			Put("/projects/" + f.Repo + "/repository/branches/" + name)
	})
}

func (f *Forge) CreateAnnotatedTag(ctx context.Context, tag forge.Tag) error {
	return f.doJSON(ctx, nil, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"tag_name": tag.Name,
			"ref":      tag.TargetSHA,
			"message":  tag.AnnotatedBody,
		}).Post("/projects/" + f.Repo + "/repository/tags")
	})
}

// CreateRelease on dialect B rejects Latest explicitly (setting it
// on others is a hard error); Draft is silently ignored since this
// dialect doesn't support it.
func (f *Forge) CreateRelease(ctx context.Context, opts forge.CreateReleaseOptions) (forge.Release, error) {
	if opts.Latest != nil {
		return forge.Release{}, forge.ErrLatestUnsupported
	}
	var result struct {
		TagName string `json:"tag_name"`
	}
	err := f.doJSON(ctx, &result, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"tag_name":    opts.TagName,
			"name":        opts.Name,
			"description": opts.Body,
		}).Post("/projects/" + f.Repo + "/releases")
	})
	if err != nil {
		return forge.Release{}, fmt.Errorf("creating release %s: %w", opts.TagName, err)
	}
	return forge.Release{ID: result.TagName}, nil
}
