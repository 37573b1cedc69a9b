package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"pool_gateway/internal/translate"
	"pool_gateway/internal/utils"
)

const (
	// ProviderGemini is the native cloudcode API, reached with OAuth tokens
	ProviderGemini = "gemini"
	// ProviderClaude is the Anthropic-compatible proxy, reached with a bearer secret
	ProviderClaude = "claude"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 2048

// Call is one upstream chat invocation
type Call struct {
	// Token authenticates the call: a live access token for the native
	// API, the stored bearer secret for the proxy
	Token     string
	ProjectID string
	Request   *translate.ChatRequest
	// RawBody is the caller's request body as received
	RawBody []byte
}

// ChatResponse is a successful upstream response. Exactly one of Body and
// Stream is set.
type ChatResponse struct {
	StatusCode      int
	Body            []byte
	Stream          io.ReadCloser
	ProviderLatency time.Duration
}

// Provider is implemented by each upstream family
type Provider interface {
	// Name returns the provider family
	Name() string

	// Chat sends a chat completion request. Non-2xx answers are returned
	// as *UpstreamError.
	Chat(ctx context.Context, call Call) (*ChatResponse, error)
}

// UpstreamError is a non-success HTTP answer from a provider
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream status code
func (e *UpstreamError) HTTPStatus() int {
	return e.StatusCode
}

// Authenticator handles authentication for a provider
type Authenticator interface {
	// Authenticate prepares authentication for a request
	Authenticate(ctx context.Context) (AuthContext, error)
}

// AuthContext holds authentication information for a request
type AuthContext interface {
	// ApplyToRequest applies authentication to an HTTP request
	ApplyToRequest(ctx context.Context, req any) error
}

// SimpleAPIKeyAuth puts a static secret into a request header
type SimpleAPIKeyAuth struct {
	key    string
	header string
	prefix string
}

// NewSimpleAPIKeyAuth creates a header authenticator
func NewSimpleAPIKeyAuth(key, header, prefix string) *SimpleAPIKeyAuth {
	return &SimpleAPIKeyAuth{key: key, header: header, prefix: prefix}
}

// BearerAuth authenticates with "Authorization: Bearer <token>"
func BearerAuth(token string) *SimpleAPIKeyAuth {
	return NewSimpleAPIKeyAuth(token, "Authorization", "Bearer ")
}

// Authenticate implements Authenticator
func (a *SimpleAPIKeyAuth) Authenticate(ctx context.Context) (AuthContext, error) {
	if a.key == "" {
		return nil, fmt.Errorf("empty credential")
	}
	return a, nil
}

// ApplyToRequest implements AuthContext
func (a *SimpleAPIKeyAuth) ApplyToRequest(ctx context.Context, req any) error {
	httpReq, ok := req.(*http.Request)
	if !ok {
		return fmt.Errorf("unsupported request type %T", req)
	}
	httpReq.Header.Set(a.header, a.prefix+a.key)
	return nil
}

// NewHTTPClient creates the shared upstream HTTP client. Per-call deadlines
// come from the request context, so the client itself has no timeout and
// long streams are not cut off.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// send authenticates and executes req. Non-2xx responses are drained into
// an *UpstreamError; streaming responses are returned open.
func send(ctx context.Context, client *http.Client, provider string, auth Authenticator, req *http.Request, stream bool) (*ChatResponse, error) {
	start := time.Now()

	authCtx, err := auth.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if err := authCtx.ApplyToRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to apply auth: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       utils.Truncate(string(body), maxErrorBody),
		}
	}

	if stream {
		return &ChatResponse{StatusCode: resp.StatusCode, Stream: resp.Body, ProviderLatency: latency}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider, err)
	}
	return &ChatResponse{StatusCode: resp.StatusCode, Body: body, ProviderLatency: latency}, nil
}
