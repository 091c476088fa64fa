package publish

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-resty/resty/v2"

	"github.com/secana/k-releaser/internal/forge"
	"github.com/secana/k-releaser/internal/secret"
)

// CratesIOTrustedPublisher exchanges a CI-provided OIDC identity token for a
// short-lived crates.io publishing token (the "trusted publishing" flow),
// and revokes it once the publish loop is done.
type CratesIOTrustedPublisher struct {
	client      *resty.Client
	ExchangeURL string
	RevokeURL   string
}

// NewCratesIOTrustedPublisher builds a client against the real crates.io
// trusted-publishing endpoints.
func NewCratesIOTrustedPublisher() *CratesIOTrustedPublisher {
	return &CratesIOTrustedPublisher{
		client:      resty.New(),
		ExchangeURL: "https://crates.io/api/v1/trusted_publishing/tokens",
		RevokeURL:   "https://crates.io/api/v1/trusted_publishing/tokens",
	}
}

type oidcExchangeRequest struct {
	JWT string `json:"jwt"`
}

type oidcExchangeResponse struct {
	Token string `json:"token"`
}

// Acquire fetches a GitHub Actions OIDC ID token scoped to crates.io and
// exchanges it for a short-lived publishing token.
func (c *CratesIOTrustedPublisher) Acquire(ctx context.Context, registryName string) (*secret.Token, error) {
	idToken, err := fetchGitHubIDToken(ctx, "crates.io")
	if err != nil {
		return nil, fmt.Errorf("fetching GitHub Actions OIDC token: %w", err)
	}

	var result oidcExchangeResponse
	err = forge.Do(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(oidcExchangeRequest{JWT: idToken}).
			SetResult(&result).
			Post(c.ExchangeURL)
		if err != nil {
			return forge.Transient(err)
		}
		if resp.StatusCode() >= 500 {
			return forge.Transient(fmt.Errorf("trusted publishing exchange returned %s", resp.Status()))
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("trusted publishing exchange returned %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, fmt.Errorf("trusted publishing exchange returned an empty token")
	}
	return secret.NewToken(result.Token), nil
}

// Revoke invalidates the short-lived token early. Best-effort: the caller
// logs failures rather than treating them as fatal.
func (c *CratesIOTrustedPublisher) Revoke(ctx context.Context, token *secret.Token) error {
	if token.Empty() {
		return nil
	}
	return forge.Do(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetAuthToken(token.Value()).
			Delete(c.RevokeURL)
		if err != nil {
			return forge.Transient(err)
		}
		if resp.StatusCode() >= 500 {
			return forge.Transient(fmt.Errorf("trusted publishing revoke returned %s", resp.Status()))
		}
		if resp.StatusCode() >= 300 {
			return fmt.Errorf("trusted publishing revoke returned %s", resp.Status())
		}
		return nil
	})
}

// fetchGitHubIDToken requests a GitHub Actions OIDC ID token scoped to aud,
// using the runner-provided request URL and bearer token (ACTIONS_ID_TOKEN_REQUEST_URL
// / ACTIONS_ID_TOKEN_REQUEST_TOKEN), which GitHub injects only inside
// workflow runs that declare `id-token: write` permission.
func fetchGitHubIDToken(ctx context.Context, aud string) (string, error) {
	reqURL := os.Getenv("ACTIONS_ID_TOKEN_REQUEST_URL")
	reqToken := os.Getenv("ACTIONS_ID_TOKEN_REQUEST_TOKEN")
	if reqURL == "" || reqToken == "" {
		return "", fmt.Errorf("ACTIONS_ID_TOKEN_REQUEST_URL/TOKEN are not set; trusted publishing requires the id-token: write workflow permission")
	}

	var body struct {
		Value string `json:"value"`
	}
	client := resty.New()
	resp, err := client.R().
		SetContext(ctx).
		SetAuthToken(reqToken).
		SetQueryParam("audience", aud).
		SetResult(&body).
		Get(reqURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("GitHub OIDC token endpoint returned %s", resp.Status())
	}
	return body.Value, nil
}
