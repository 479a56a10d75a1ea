// Package oauth talks to integration OAuth providers. The gateway only
// ever performs the refresh-token grant; authorization-code flows are
// driven by the surrounding product.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"toolgate/internal/codec"
	"toolgate/internal/store"
	"toolgate/pkg/logging"

	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/gitlab"
	"golang.org/x/oauth2/slack"
)

// ErrRefreshFailed is returned when the provider rejects or fails the
// refresh request. The stored connection is left untouched in that case.
var ErrRefreshFailed = errors.New("token refresh failed")

// ErrNoTokenEndpoint is returned when an integration's OAuth config
// names no token URL and no known provider default exists.
var ErrNoTokenEndpoint = errors.New("no token endpoint configured")

// providerTokenURLs maps well-known provider names to their token
// endpoints, so integration definitions can omit the URL. GitHub,
// GitLab, and Slack come from x/oauth2; Linear and Notion publish
// stable endpoints but have no x/oauth2 package.
var providerTokenURLs = map[string]string{
	"github": github.Endpoint.TokenURL,
	"gitlab": gitlab.Endpoint.TokenURL,
	"slack":  slack.Endpoint.TokenURL,
	"linear": "https://api.linear.app/oauth/token",
	"notion": "https://api.notion.com/v1/oauth/token",
}

// TokenURLFor resolves the token endpoint for an integration's OAuth
// configuration: explicit URL first, then the provider default.
func TokenURLFor(cfg store.OAuthConfig) (string, error) {
	if cfg.TokenURL != "" {
		return cfg.TokenURL, nil
	}
	if endpoint, ok := providerTokenURLs[strings.ToLower(cfg.Provider)]; ok {
		return endpoint, nil
	}
	return "", fmt.Errorf("%w for provider %q", ErrNoTokenEndpoint, cfg.Provider)
}

// tokenResponse is the provider's refresh-grant response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshClient performs refresh-token grants against provider token
// endpoints.
type RefreshClient struct {
	httpClient *http.Client
}

// NewRefreshClient creates a refresh client with the given request
// timeout bounding every refresh call.
func NewRefreshClient(timeout time.Duration) *RefreshClient {
	return &RefreshClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Refresh exchanges a refresh token for a new credential bundle.
// Exactly one attempt is made; callers own any retry policy. When the
// provider omits a new refresh token, the old one is carried forward.
func (c *RefreshClient) Refresh(ctx context.Context, cfg store.OAuthConfig, refreshToken string) (codec.Bundle, error) {
	if refreshToken == "" {
		return codec.Bundle{}, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	tokenURL, err := TokenURLFor(cfg)
	if err != nil {
		return codec.Bundle{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		data.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return codec.Bundle{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return codec.Bundle{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return codec.Bundle{}, fmt.Errorf("%w: reading response: %v", ErrRefreshFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		// The body may carry provider error hints; keep it out of the
		// returned error and log it at debug level only.
		logging.Debug("OAuth", "Refresh failed for provider %s: status=%d body=%s", cfg.Provider, resp.StatusCode, string(body))
		return codec.Bundle{}, fmt.Errorf("%w: provider returned status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return codec.Bundle{}, fmt.Errorf("%w: invalid token response: %v", ErrRefreshFailed, err)
	}
	if token.AccessToken == "" {
		return codec.Bundle{}, fmt.Errorf("%w: provider returned no access token", ErrRefreshFailed)
	}

	bundle := codec.Bundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = refreshToken
	}
	if bundle.TokenType == "" {
		bundle.TokenType = "Bearer"
	}

	logging.Debug("OAuth", "Refreshed token for provider %s (expires_in=%d)", cfg.Provider, token.ExpiresIn)
	return bundle, nil
}
