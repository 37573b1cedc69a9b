package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"pool_gateway/internal/translate"
)

// ClaudeProxyProvider forwards OpenAI-shaped requests to an
// Anthropic-compatible proxy without translation
type ClaudeProxyProvider struct {
	client  *http.Client
	baseURL string
}

// NewClaudeProxyProvider creates a proxy provider. baseURL is the proxy's
// OpenAI root, e.g. http://127.0.0.1:8045/v1.
func NewClaudeProxyProvider(baseURL string, client *http.Client) *ClaudeProxyProvider {
	return &ClaudeProxyProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the provider family
func (p *ClaudeProxyProvider) Name() string {
	return ProviderClaude
}

// Chat forwards the caller's body as received. Only a display prefix on the
// model id is removed; a body without one goes out byte for byte.
func (p *ClaudeProxyProvider) Chat(ctx context.Context, call Call) (*ChatResponse, error) {
	body, err := rewriteModel(call.RawBody)
	if err != nil {
		return nil, err
	}
	stream := gjson.GetBytes(body, "stream").Bool()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	return send(ctx, p.client, ProviderClaude, BearerAuth(call.Token), httpReq, stream)
}

func rewriteModel(body []byte) ([]byte, error) {
	model := gjson.GetBytes(body, "model").String()
	stripped := translate.StripModelPrefix(model)
	if stripped == model {
		return body, nil
	}
	out, err := sjson.SetBytes(body, "model", stripped)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite model: %w", err)
	}
	return out, nil
}

// ListModels returns the model ids the proxy serves for a token
func (p *ClaudeProxyProvider) ListModels(ctx context.Context, token string) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := send(ctx, p.client, ProviderClaude, BearerAuth(token), httpReq, false)
	if err != nil {
		return nil, err
	}

	var ids []string
	gjson.GetBytes(resp.Body, "data.#.id").ForEach(func(_, id gjson.Result) bool {
		ids = append(ids, id.String())
		return true
	})
	return ids, nil
}
