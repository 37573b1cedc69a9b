package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"pool_gateway/internal/models"
	"pool_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// OwnerKey is the context key for the authenticated owner
	OwnerKey ContextKey = "owner"
)

// KeyParser verifies a presented API key and names its owner
type KeyParser interface {
	Parse(key string) (uuid.UUID, error)
}

// OwnerLookup loads owners by id
type OwnerLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error)
}

var errMissingKey = errors.New("missing API key")

// APIKeyMiddleware authenticates callers by API key and adds the owner to
// the request context. The key may come as "Authorization: Bearer <key>"
// or "X-API-Key: <key>"; an "sk-" prefix is optional.
func APIKeyMiddleware(keys KeyParser, owners OwnerLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := extractKey(r)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing API key")
				return
			}

			ownerID, err := keys.Parse(apiKey)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			ctx := r.Context()
			owner, err := owners.GetByID(ctx, ownerID)
			if err != nil {
				// a key for a deleted owner is as good as no key
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			if !owner.IsActive {
				utils.RespondWithError(w, http.StatusForbidden, "Account is disabled")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(ctx, owner)))
		})
	}
}

func extractKey(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, nil
	}
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingKey
	}
	return strings.TrimSpace(token), nil
}

// WithOwner stores the authenticated owner in ctx
func WithOwner(ctx context.Context, owner *models.Owner) context.Context {
	return context.WithValue(ctx, OwnerKey, owner)
}

// GetOwner retrieves the authenticated owner from the request context
func GetOwner(ctx context.Context) (*models.Owner, bool) {
	owner, ok := ctx.Value(OwnerKey).(*models.Owner)
	return owner, ok
}
