// Package oauth talks to the Google identity endpoints on behalf of
// credential donors: consent URLs, code exchange, token refresh and the
// account lookups that label a new credential.
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

	"github.com/tidwall/gjson"

	"pool_gateway/internal/config"
)

// Scopes requested for donated Google credentials
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Endpoints are the identity provider URLs
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	ProjectsURL string
}

// DefaultEndpoints returns the Google production endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:     "https://accounts.google.com/o/oauth2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		ProjectsURL: "https://cloudresourcemanager.googleapis.com/v1/projects",
	}
}

var (
	// ErrNotConfigured is returned when no OAuth client has been registered
	ErrNotConfigured = errors.New("oauth client is not configured")

	// ErrGrantRevoked matches a token endpoint answer saying the refresh
	// token itself is no longer valid
	ErrGrantRevoked = errors.New("oauth grant revoked")
)

// Token is a token endpoint response
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type"`
}

// Lifetime returns the token lifetime, defaulting to one hour
func (t *Token) Lifetime() time.Duration {
	if t.ExpiresIn <= 0 {
		return time.Hour
	}
	return time.Duration(t.ExpiresIn) * time.Second
}

// HTTPError is a non-2xx answer from an identity endpoint
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Code returns the OAuth error code from the response body, if any
func (e *HTTPError) Code() string {
	return gjson.Get(e.Body, "error").String()
}

// Is reports ErrGrantRevoked for an invalid_grant answer. Other failures,
// including invalid_client, say nothing about the donor's grant.
func (e *HTTPError) Is(target error) bool {
	return target == ErrGrantRevoked && e.Code() == "invalid_grant"
}

// Client performs token and account calls. The OAuth client registration
// is read from settings at the start of every call.
type Client struct {
	settings   *config.OAuthSettings
	endpoints  Endpoints
	httpClient *http.Client
}

// NewClient creates a new OAuth client
func NewClient(settings *config.OAuthSettings, endpoints Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{settings: settings, endpoints: endpoints, httpClient: httpClient}
}

// Refresh exchanges a refresh token for a new access token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}
	snapshot := c.settings.Current()
	if !snapshot.Configured() {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("client_id", snapshot.ClientID)
	form.Set("client_secret", snapshot.ClientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	return c.postToken(ctx, form)
}

// Exchange trades an authorization code for tokens
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is empty")
	}
	snapshot := c.settings.Current()
	if !snapshot.Configured() {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("client_id", snapshot.ClientID)
	form.Set("client_secret", snapshot.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", snapshot.RedirectURI)
	form.Set("grant_type", "authorization_code")

	return c.postToken(ctx, form)
}

func (c *Client) postToken(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "token endpoint")
	if err != nil {
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	return &token, nil
}

// FetchEmail returns the account email behind an access token
func (c *Client) FetchEmail(ctx context.Context, accessToken string) (string, error) {
	body, err := c.getJSON(ctx, c.endpoints.UserInfoURL, accessToken, "userinfo endpoint")
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "email").String(), nil
}

// DiscoverProject picks the project to bill native calls to. A project whose
// id contains "default" wins; otherwise the first one listed.
func (c *Client) DiscoverProject(ctx context.Context, accessToken string) (string, error) {
	body, err := c.getJSON(ctx, c.endpoints.ProjectsURL, accessToken, "projects endpoint")
	if err != nil {
		return "", err
	}

	ids := gjson.GetBytes(body, "projects.#.projectId").Array()
	if len(ids) == 0 {
		return "", nil
	}
	for _, id := range ids {
		if strings.Contains(strings.ToLower(id.String()), "default") {
			return id.String(), nil
		}
	}
	return ids[0].String(), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, accessToken, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", name, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, name)
}

func (c *Client) do(req *http.Request, name string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Endpoint: name, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// AuthURL builds the consent URL for a donor. Offline access and a forced
// consent prompt make Google return a refresh token every time.
func (c *Client) AuthURL(state string) (string, error) {
	snapshot := c.settings.Current()
	if snapshot.ClientID == "" {
		return "", ErrNotConfigured
	}

	q := url.Values{}
	q.Set("client_id", snapshot.ClientID)
	q.Set("redirect_uri", snapshot.RedirectURI)
	q.Set("scope", strings.Join(Scopes, " "))
	q.Set("response_type", "code")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("state", state)

	return c.endpoints.AuthURL + "?" + q.Encode(), nil
}
