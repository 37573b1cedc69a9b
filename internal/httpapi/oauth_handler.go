package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pool_gateway/internal/middleware"
	"pool_gateway/internal/oauth"
	"pool_gateway/internal/pool"
	"pool_gateway/internal/storage"
	"pool_gateway/internal/utils"
)

// OAuthCallbackRequest completes a consent round trip. Either the full
// redirect URL or its code and state may be sent.
type OAuthCallbackRequest struct {
	CallbackURL string `json:"callback_url"`
	Code        string `json:"code"`
	State       string `json:"state"`
	IsPublic    bool   `json:"is_public"`
}

// handleOAuthURL handles GET /api/oauth/auth-url
func (d *Dependencies) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	state, err := d.States.Issue(r.Context(), owner.ID)
	if err != nil {
		d.logger.Error("Failed to issue oauth state", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to start authorization")
		return
	}

	authURL, err := d.OAuth.AuthURL(state)
	if err != nil {
		if errors.Is(err, oauth.ErrNotConfigured) {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "OAuth client is not configured")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to build authorization URL")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{
		"auth_url": authURL,
		"state":    state,
	})
}

// handleOAuthCallback handles POST /api/oauth/callback. The state is
// consumed on first use and must have been issued to the caller.
func (d *Dependencies) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	ctx := r.Context()

	var req OAuthCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	code, state, err := callbackParams(req)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	issuedTo, err := d.States.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidState) {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid or expired state")
			return
		}
		d.logger.Error("Failed to consume oauth state", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to verify state")
		return
	}
	if issuedTo != owner.ID {
		utils.RespondWithError(w, http.StatusForbidden, "State was issued to another account")
		return
	}

	token, err := d.OAuth.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, oauth.ErrNotConfigured) {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "OAuth client is not configured")
			return
		}
		d.logger.Info("Authorization code exchange failed", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Authorization code exchange failed")
		return
	}
	if token.RefreshToken == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "No refresh token returned; revoke the app's access and try again")
		return
	}

	bundle := storage.SecretBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(token.Lifetime()).Truncate(time.Second),
	}

	d.registerCredential(ctx, w, owner, bundle, pool.RegisterInput{Public: req.IsPublic})
}

// callbackParams pulls code and state from the request, preferring the
// redirect URL when one is given
func callbackParams(req OAuthCallbackRequest) (code, state string, err error) {
	code, state = strings.TrimSpace(req.Code), strings.TrimSpace(req.State)

	if req.CallbackURL != "" {
		u, parseErr := url.Parse(strings.TrimSpace(req.CallbackURL))
		if parseErr != nil {
			return "", "", errors.New("invalid callback_url")
		}
		q := u.Query()
		if denied := q.Get("error"); denied != "" {
			return "", "", errors.New("authorization denied: " + denied)
		}
		code, state = q.Get("code"), q.Get("state")
	}

	if code == "" || state == "" {
		return "", "", errors.New("code and state are required")
	}
	return code, state, nil
}
