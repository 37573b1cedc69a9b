package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"pool_gateway/internal/translate"
)

// GeminiProvider calls the native cloudcode API with translated requests
type GeminiProvider struct {
	client  *http.Client
	baseURL string
}

// NewGeminiProvider creates a native provider. baseURL is the v1internal
// root, e.g. https://cloudcode-pa.googleapis.com/v1internal.
func NewGeminiProvider(baseURL string, client *http.Client) *GeminiProvider {
	return &GeminiProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the provider family
func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

// Chat translates the request and calls generateContent or, for streams,
// streamGenerateContent in SSE mode. The response is returned in native
// shape; callers translate it back.
func (p *GeminiProvider) Chat(ctx context.Context, call Call) (*ChatResponse, error) {
	if call.Request == nil {
		return nil, fmt.Errorf("gemini call without a parsed request")
	}

	body, err := json.Marshal(translate.BuildGeminiRequest(call.Request, call.ProjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + ":generateContent"
	if call.Request.Stream {
		url = p.baseURL + ":streamGenerateContent?alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return send(ctx, p.client, ProviderGemini, BearerAuth(call.Token), httpReq, call.Request.Stream)
}
