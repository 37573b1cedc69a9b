package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"pool_gateway/internal/middleware"
	"pool_gateway/internal/models"
	"pool_gateway/internal/pool"
	"pool_gateway/internal/providers"
	"pool_gateway/internal/quota"
	"pool_gateway/internal/storage"
	"pool_gateway/internal/translate"
	"pool_gateway/internal/utils"
)

// maxRequestBody bounds a chat request; inline images make them large
const maxRequestBody = 32 << 20

// handleChat is the entry point for OpenAI-compatible chat completions.
//
// Flow:
//  1. Decode JSON body
//  2. Per-minute rate limit (contributors get a higher limit)
//  3. Daily quota check
//  4. Acquire a credential from the pool
//  5. Record the attempt
//  6. Route: claude models and bearer-only secrets go to the proxy,
//     OAuth grants go to the native API with a live access token
//  7. Call provider
//  8. Translate, report the outcome to the pool and respond
func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := newRequestID()
	ctx := r.Context()

	owner, ok := middleware.GetOwner(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	// 1. Decode the request; the raw bytes are kept for the proxy path
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req translate.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Model == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "missing 'model' field")
		return
	}
	if len(req.Messages) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "'messages' must not be empty")
		return
	}

	// 2. Rate limit
	if !d.allowRate(w, r, owner) {
		return
	}

	// 3. Quota; no credential is consulted once the day is spent
	if _, err := d.Quota.CheckAndCount(ctx, owner.ID); err != nil {
		if errors.Is(err, quota.ErrQuotaExhausted) {
			utils.RespondWithError(w, http.StatusTooManyRequests, "daily quota exhausted")
			return
		}
		d.logger.Error("Quota check failed", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// 4. Acquire
	cred, err := d.Pool.Acquire(ctx, owner.ID, req.Model)
	if err != nil {
		d.refund(ctx, owner.ID)
		if errors.Is(err, pool.ErrNoEligibleCredential) {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "no credential available for "+req.Model)
			return
		}
		d.logger.Error("Credential acquisition failed", "owner_id", owner.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	bundle, err := d.Pool.Decrypt(cred)
	if err != nil {
		d.logger.Error("Stored secret unreadable", "credential_id", cred.ID, "error", err)
		d.reportFailure(ctx, cred.ID, err)
		d.refund(ctx, owner.ID)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "credential unavailable")
		return
	}

	provider := d.route(req.Model, bundle)
	log := d.logger.With("request_id", reqID, "owner_id", owner.ID, "credential_id", cred.ID, "provider", provider.Name())

	// 5. Usage is attributed on attempt
	d.recordUsage(ctx, &models.UsageRecord{
		OwnerID:      owner.ID,
		CredentialID: cred.ID,
		RequestID:    reqID,
		Model:        req.Model,
		Provider:     provider.Name(),
	})

	// 6. Credential for the chosen path
	call := providers.Call{
		Token:     bundle.AccessToken,
		ProjectID: cred.ProjectID,
		Request:   &req,
		RawBody:   body,
	}
	if provider.Name() == providers.ProviderGemini {
		token, err := d.Pool.LiveAccessToken(ctx, cred)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("Client went away during token refresh")
				return
			}
			d.reportFailure(ctx, cred.ID, err)
			log.Warn("Access token unavailable", "error", err)
			utils.RespondWithError(w, http.StatusServiceUnavailable, "credential refresh failed")
			return
		}
		call.Token = token
	}

	// 7. Call provider under its own deadline
	callCtx, cancel := context.WithTimeout(ctx, d.Config.Upstream.ChatTimeout)
	defer cancel()

	resp, err := provider.Chat(callCtx, call)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("Client went away before upstream answered")
			return
		}
		kind := d.reportFailure(ctx, cred.ID, err)
		log.Warn("Upstream call failed", "kind", kind, "error", err, "gateway_ms", time.Since(start).Milliseconds())
		writeUpstreamError(w, err, kind)
		return
	}

	// 8. Respond
	if resp.Stream != nil {
		d.streamResponse(ctx, w, resp, provider, req.Model, cred.ID, log)
		return
	}

	if provider.Name() == providers.ProviderGemini {
		completion, err := translate.ConvertResponse(resp.Body, req.Model)
		if err != nil {
			d.reportFailure(ctx, cred.ID, err)
			log.Warn("Upstream response malformed", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "malformed upstream response")
			return
		}
		d.reportSuccess(ctx, cred.ID)
		_ = utils.RespondWithJSON(w, http.StatusOK, completion)
	} else {
		d.reportSuccess(ctx, cred.ID)
		utils.RespondWithRawJSON(w, resp.StatusCode, resp.Body)
	}

	log.Debug("Chat completed",
		"provider_ms", resp.ProviderLatency.Milliseconds(),
		"gateway_ms", time.Since(start).Milliseconds(),
	)
}

// route picks the upstream for a model and credential. A bearer-only
// secret cannot authenticate against the native API, so it always goes
// through the proxy.
func (d *Dependencies) route(model string, bundle storage.SecretBundle) providers.Provider {
	if models.CapabilityFor(model) == models.CapabilityClaude || !bundle.Refreshable() {
		return d.Claude
	}
	return d.Gemini
}

// streamResponse relays an SSE stream to the caller. A caller that goes
// away is not the credential's fault and is not reported.
func (d *Dependencies) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	resp *providers.ChatResponse,
	provider providers.Provider,
	model string,
	credID uuid.UUID,
	log *utils.ContextLogger,
) {
	defer resp.Stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flush := func() {}
	if flusher, ok := w.(http.Flusher); ok {
		flush = flusher.Flush
	}

	var err error
	if provider.Name() == providers.ProviderGemini {
		var forwarded int
		forwarded, err = translate.NewStreamTranslator(model).Pipe(resp.Stream, w, flush)
		log.Debug("Stream finished", "chunks", forwarded)
	} else {
		err = passthrough(resp.Stream, w, flush)
	}

	switch {
	case err == nil:
		d.reportSuccess(ctx, credID)
	case errors.Is(err, translate.ErrClientGone) || ctx.Err() != nil:
		log.Debug("Client disconnected mid-stream")
	default:
		kind := d.reportFailure(ctx, credID, err)
		log.Warn("Upstream stream failed", "kind", kind, "error", err)
		writeStreamError(w, kind)
		_, _ = io.WriteString(w, translate.DoneEvent)
		flush()
	}
}

// passthrough copies an upstream stream as it arrives
func passthrough(src io.Reader, dst io.Writer, flush func()) error {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: %v", translate.ErrClientGone, err)
			}
			flush()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read upstream stream: %w", readErr)
		}
	}
}

// writeStreamError emits an error event once the SSE headers are out
func writeStreamError(w io.Writer, kind pool.FailureKind) {
	code := http.StatusInternalServerError
	message := "upstream stream interrupted"
	if kind == pool.FailureTimeout {
		code = http.StatusGatewayTimeout
		message = "upstream timeout"
	}
	payload, _ := json.Marshal(utils.ErrorResponse{Error: utils.ErrorBody{
		Message: message,
		Type:    "api_error",
		Code:    code,
	}})
	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
}

// writeUpstreamError maps a failed provider call to a caller status. An
// upstream status is preserved; otherwise timeouts become 504 and the
// rest 500.
func writeUpstreamError(w http.ResponseWriter, err error, kind pool.FailureKind) {
	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		detail := strings.TrimSpace(upstream.Body)
		if detail == "" {
			detail = http.StatusText(upstream.StatusCode)
		}
		utils.RespondWithError(w, upstream.StatusCode, fmt.Sprintf("upstream error: %s", utils.Truncate(detail, 500)))
		return
	}
	if kind == pool.FailureTimeout {
		utils.RespondWithError(w, http.StatusGatewayTimeout, "upstream timeout")
		return
	}
	utils.RespondWithError(w, http.StatusInternalServerError, "upstream request failed")
}

// allowRate applies the per-minute limit and sets the X-RateLimit headers.
// A limiter outage lets the request through.
func (d *Dependencies) allowRate(w http.ResponseWriter, r *http.Request, owner *models.Owner) bool {
	ctx := r.Context()
	limit := d.rpmFor(ctx, owner.ID)
	if limit <= 0 {
		return true
	}

	allowed, remaining, resetAt, err := d.RateLimit.AllowWithDetails(ctx, rateKey(owner.ID), limit)
	if err != nil {
		d.logger.Warn("Rate limiter unavailable, allowing request", "owner_id", owner.ID, "error", err)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	if remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if !resetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}

	if !allowed {
		retry := int(time.Until(resetAt).Seconds()) + 1
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		utils.RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// rateKey is the limiter key shared by every request of one owner
func rateKey(ownerID uuid.UUID) string {
	return "owner:" + ownerID.String()
}

// rpmFor returns the owner's per-minute limit
func (d *Dependencies) rpmFor(ctx context.Context, ownerID uuid.UUID) int {
	contributor, err := d.Pool.IsContributor(ctx, ownerID)
	if err != nil {
		d.logger.Warn("Contributor lookup failed", "owner_id", ownerID, "error", err)
		return d.Config.RateLimit.BaseRPM
	}
	if contributor {
		return d.Config.RateLimit.ContributorRPM
	}
	return d.Config.RateLimit.BaseRPM
}

func (d *Dependencies) refund(ctx context.Context, ownerID uuid.UUID) {
	if err := d.Quota.Refund(context.WithoutCancel(ctx), ownerID); err != nil {
		d.logger.Warn("Quota refund failed", "owner_id", ownerID, "error", err)
	}
}

func (d *Dependencies) recordUsage(ctx context.Context, record *models.UsageRecord) {
	if d.Usage == nil {
		return
	}
	if err := d.Usage.Enqueue(ctx, record); err != nil {
		d.logger.Error("Failed to record usage", "request_id", record.RequestID, "error", err)
	}
}

func (d *Dependencies) reportSuccess(ctx context.Context, credID uuid.UUID) {
	if err := d.Pool.ReportSuccess(ctx, credID); err != nil {
		d.logger.Error("Failed to report success", "credential_id", credID, "error", err)
	}
}

func (d *Dependencies) reportFailure(ctx context.Context, credID uuid.UUID, cause error) pool.FailureKind {
	kind, err := d.Pool.ReportFailure(ctx, credID, cause)
	if err != nil {
		d.logger.Error("Failed to report failure", "credential_id", credID, "error", err)
	}
	return kind
}

// newRequestID returns a UUID request ID for tracing
func newRequestID() string {
	return uuid.New().String()
}
