package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"pool_gateway/internal/middleware"
	"pool_gateway/internal/models"
	"pool_gateway/internal/pool"
	"pool_gateway/internal/storage"
	"pool_gateway/internal/utils"
)

// CreateCredentialRequest is a manual donation. Token and AccessToken are
// synonyms; a bare token is stored as a bearer secret.
type CreateCredentialRequest struct {
	Token        string `json:"token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ProjectID    string `json:"project_id"`
	Email        string `json:"email"`
	IsPublic     bool   `json:"is_public"`
}

// UpdateCredentialRequest changes a credential's visibility
type UpdateCredentialRequest struct {
	IsPublic *bool `json:"is_public"`
}

// CredentialResponse is a credential as shown to its owner
type CredentialResponse struct {
	ID             string  `json:"id"`
	Email          string  `json:"email,omitempty"`
	ProjectID      string  `json:"project_id,omitempty"`
	SupportsClaude bool    `json:"supports_claude"`
	SupportsGemini bool    `json:"supports_gemini"`
	IsPublic       bool    `json:"is_public"`
	IsActive       bool    `json:"is_active"`
	SuccessCount   int64   `json:"success_count"`
	FailureCount   int64   `json:"failure_count"`
	LastError      string  `json:"last_error,omitempty"`
	LastUsed       *string `json:"last_used,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// MeResponse describes the calling owner
type MeResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsAdmin     bool   `json:"is_admin"`
	DailyQuota  int    `json:"daily_quota"`
	UsedToday   int    `json:"used_today"`
	Remaining   int    `json:"remaining"`
	Contributor bool   `json:"contributor"`
	RPM         int    `json:"rpm"`
	// RequestsThisMinute counts requests admitted in the current window
	RequestsThisMinute int64 `json:"requests_this_minute"`
	Credentials        int   `json:"credentials"`
}

func toCredentialResponse(c *models.Credential) CredentialResponse {
	resp := CredentialResponse{
		ID:             c.ID.String(),
		Email:          lo.FromPtr(c.Email),
		ProjectID:      c.ProjectID,
		SupportsClaude: c.SupportsClaude,
		SupportsGemini: c.SupportsGemini,
		IsPublic:       c.IsPublic,
		IsActive:       c.IsActive,
		SuccessCount:   c.SuccessCount,
		FailureCount:   c.FailureCount,
		LastError:      lo.FromPtr(c.LastError),
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
	if c.LastUsed != nil {
		resp.LastUsed = lo.ToPtr(c.LastUsed.Format(time.RFC3339))
	}
	return resp
}

// handleMe handles GET /api/me
func (d *Dependencies) handleMe(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	ctx := r.Context()

	usage, err := d.Quota.Used(ctx, owner.ID)
	if err != nil {
		d.logger.Error("Failed to read quota usage", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read usage")
		return
	}

	creds, err := d.Pool.Credentials(ctx, owner.ID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list credentials")
		return
	}

	contributor, err := d.Pool.IsContributor(ctx, owner.ID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read contributor status")
		return
	}

	rpm := d.Config.RateLimit.BaseRPM
	if contributor {
		rpm = d.Config.RateLimit.ContributorRPM
	}

	// informational only; a limiter outage reports zero
	recent, err := d.RateLimit.GetCurrentUsage(ctx, rateKey(owner.ID))
	if err != nil {
		d.logger.Warn("Failed to read rate limit usage", "owner_id", owner.ID, "error", err)
		recent = 0
	}

	utils.RespondWithJSON(w, http.StatusOK, MeResponse{
		ID:          owner.ID.String(),
		Name:        owner.Name,
		IsAdmin:     owner.IsAdmin,
		DailyQuota:  usage.Ceiling,
		UsedToday:   usage.Used,
		Remaining:   usage.Remaining(),
		Contributor: contributor,
		RPM:         rpm,

		RequestsThisMinute: recent,
		Credentials:        len(creds),
	})
}

// handleListCredentials handles GET /api/credentials
func (d *Dependencies) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	creds, err := d.Pool.Credentials(r.Context(), owner.ID)
	if err != nil {
		d.logger.Error("Failed to list credentials", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list credentials")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"credentials": lo.Map(creds, func(c *models.Credential, _ int) CredentialResponse {
			return toCredentialResponse(c)
		}),
	})
}

// handleCreateCredential handles POST /api/credentials
func (d *Dependencies) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	accessToken := strings.TrimSpace(lo.CoalesceOrEmpty(req.AccessToken, req.Token))
	if accessToken == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "token is required")
		return
	}

	now := time.Now().UTC()
	bundle := storage.SecretBundle{
		AccessToken:  accessToken,
		RefreshToken: strings.TrimSpace(req.RefreshToken),
	}
	switch {
	case req.ExpiresIn > 0:
		bundle.ExpiresAt = now.Add(time.Duration(req.ExpiresIn) * time.Second).Truncate(time.Second)
	case bundle.Refreshable():
		// unknown lifetime: renew on first use
		bundle.ExpiresAt = now.Truncate(time.Second)
	}

	d.registerCredential(r.Context(), w, owner, bundle, pool.RegisterInput{
		Email:     strings.TrimSpace(req.Email),
		ProjectID: strings.TrimSpace(req.ProjectID),
		Public:    req.IsPublic,
	})
}

// registerCredential verifies a secret, completes its account details and
// adds it to the pool. It writes the response.
func (d *Dependencies) registerCredential(ctx context.Context, w http.ResponseWriter, owner *models.Owner, bundle storage.SecretBundle, in pool.RegisterInput) {
	caps, err := d.Verifier.Verify(ctx, bundle)
	if err != nil {
		d.logger.Info("Credential verification failed", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Credential verification failed")
		return
	}
	if !caps.Claude && !caps.Gemini {
		utils.RespondWithError(w, http.StatusBadRequest, "Credential does not support any provider")
		return
	}
	in.SupportsClaude = caps.Claude
	in.SupportsGemini = caps.Gemini

	if bundle.Refreshable() {
		d.completeAccount(ctx, bundle.AccessToken, &in)
	}

	cred, err := d.Pool.Register(ctx, owner.ID, bundle, in)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateCredential) {
			utils.RespondWithError(w, http.StatusConflict, "Credential already exists for this account")
			return
		}
		d.logger.Error("Failed to register credential", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to save credential")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

// completeAccount fills in email and project from the identity provider.
// Both lookups are best effort.
func (d *Dependencies) completeAccount(ctx context.Context, accessToken string, in *pool.RegisterInput) {
	if d.OAuth == nil {
		return
	}
	if in.Email == "" {
		email, err := d.OAuth.FetchEmail(ctx, accessToken)
		if err != nil {
			d.logger.Debug("Email lookup failed", "error", err)
		}
		in.Email = email
	}
	if in.ProjectID == "" {
		project, err := d.OAuth.DiscoverProject(ctx, accessToken)
		if err != nil {
			d.logger.Debug("Project discovery failed", "error", err)
		}
		in.ProjectID = project
	}
}

// handleUpdateCredential handles PATCH /api/credentials/{id}
func (d *Dependencies) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid credential ID format")
		return
	}

	var req UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.IsPublic == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "is_public is required")
		return
	}

	res, err := d.Pool.SetVisibility(r.Context(), owner.ID, id, *req.IsPublic)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Credential not found")
			return
		}
		d.logger.Error("Failed to change visibility", "credential_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update credential")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"id":             id.String(),
		"is_public":      *req.IsPublic,
		"changed":        res.Changed,
		"reward_granted": res.RewardGranted,
		"reward_revoked": res.RewardRevoked,
	})
}

// handleDeleteCredential handles DELETE /api/credentials/{id}
func (d *Dependencies) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid credential ID format")
		return
	}

	if err := d.Pool.Remove(r.Context(), owner.ID, id); err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Credential not found")
			return
		}
		d.logger.Error("Failed to remove credential", "credential_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete credential")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
