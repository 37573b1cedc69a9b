package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"pool_gateway/internal/config"
	"pool_gateway/internal/middleware"
	"pool_gateway/internal/utils"
)

// OAuthConfigResponse shows the active OAuth client with its secret masked
type OAuthConfigResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
	Configured   bool   `json:"configured"`
}

func toOAuthConfigResponse(c config.OAuthClient) OAuthConfigResponse {
	return OAuthConfigResponse{
		ClientID:     c.ClientID,
		ClientSecret: maskSecret(c.ClientSecret),
		RedirectURI:  c.RedirectURI,
		Configured:   c.Configured(),
	}
}

// maskSecret keeps the last four characters of a secret
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// handleGetOAuthConfig handles GET /admin/oauth/config
func (d *Dependencies) handleGetOAuthConfig(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, toOAuthConfigResponse(d.Config.OAuth.Current()))
}

// handleUpdateOAuthConfig handles POST /admin/oauth/config. The new client
// applies to token exchanges that start after this returns.
func (d *Dependencies) handleUpdateOAuthConfig(w http.ResponseWriter, r *http.Request) {
	var req config.OAuthClient
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ClientSecret = strings.TrimSpace(req.ClientSecret)
	req.RedirectURI = strings.TrimSpace(req.RedirectURI)

	if err := d.Config.OAuth.Update(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if owner, ok := middleware.GetOwner(r.Context()); ok {
		d.logger.Info("OAuth client updated", "by", owner.ID, "client_id", req.ClientID)
	}

	utils.RespondWithJSON(w, http.StatusOK, toOAuthConfigResponse(d.Config.OAuth.Current()))
}
