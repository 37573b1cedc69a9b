package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"pool_gateway/internal/storage"
)

// Capabilities are the provider families a secret was verified against
type Capabilities struct {
	Claude bool
	Gemini bool
	Models []string
}

// ModelLister lists the models visible to a token
type ModelLister interface {
	ListModels(ctx context.Context, token string) ([]string, error)
}

// Verifier decides capability flags for a submitted secret
type Verifier struct {
	lister  ModelLister
	timeout time.Duration
}

// NewVerifier creates a verifier that queries the proxy model listing
func NewVerifier(lister ModelLister, timeout time.Duration) *Verifier {
	return &Verifier{lister: lister, timeout: timeout}
}

// Verify requests the model listing with the bundle's access token. A model
// id mentioning a family sets its flag. A bundle carrying a refresh token
// is an OAuth grant for the native API and always supports gemini.
func (v *Verifier) Verify(ctx context.Context, bundle storage.SecretBundle) (Capabilities, error) {
	if bundle.AccessToken == "" {
		return Capabilities{}, fmt.Errorf("empty access token")
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	models, err := v.lister.ListModels(ctx, bundle.AccessToken)
	if err != nil {
		if bundle.Refreshable() {
			// the proxy may not know OAuth grants; the native API does
			return Capabilities{Gemini: true}, nil
		}
		return Capabilities{}, fmt.Errorf("verification failed: %w", err)
	}

	return Capabilities{
		Claude: lo.SomeBy(models, containsFold(ProviderClaude)),
		Gemini: bundle.Refreshable() || lo.SomeBy(models, containsFold(ProviderGemini)),
		Models: models,
	}, nil
}

func containsFold(keyword string) func(string) bool {
	return func(model string) bool {
		return strings.Contains(strings.ToLower(model), keyword)
	}
}
