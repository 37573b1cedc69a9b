package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/lo"

	"pool_gateway/internal/models"
	"pool_gateway/internal/utils"
)

// healthTimeout bounds each backing service check
const healthTimeout = 2 * time.Second

// ModelEntry is one item of the OpenAI model listing
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// StatsResponse is the public pool summary
type StatsResponse struct {
	Users         int              `json:"users"`
	Tokens        models.PoolStats `json:"tokens"`
	TodayRequests int              `json:"today_requests"`
	TotalRequests int              `json:"total_requests"`
}

// handleModels handles GET /v1/models. Display prefixes are accepted on
// input but not advertised.
func (d *Dependencies) handleModels(w http.ResponseWriter, r *http.Request) {
	created := time.Now().Unix()
	entry := func(ownedBy string) func(string, int) ModelEntry {
		return func(id string, _ int) ModelEntry {
			return ModelEntry{ID: id, Object: "model", Created: created, OwnedBy: ownedBy}
		}
	}

	data := append(
		lo.Map(d.Config.Upstream.GeminiModels, entry("google")),
		lo.Map(d.Config.Upstream.ClaudeModels, entry("anthropic"))...,
	)

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}

// handleStats handles GET /api/stats
func (d *Dependencies) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := d.Pool.Stats(ctx)
	if err != nil {
		d.logger.Error("Failed to read pool stats", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}

	users, err := d.Owners.Count(ctx)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	today, err := d.UsageRepo.CountAllSince(ctx, midnight)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}

	total, err := d.UsageRepo.Count(ctx)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, StatsResponse{
		Users:         users,
		Tokens:        stats,
		TodayRequests: today,
		TotalRequests: total,
	})
}

// handleHealth handles GET /health
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]HealthChecker{}
	if d.DB != nil {
		checks["database"] = d.DB
	}
	if d.Redis != nil {
		checks["redis"] = d.Redis
	}

	status := http.StatusOK
	results := make(map[string]string, len(checks))
	for name, checker := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := checker.Health(ctx)
		cancel()

		if err != nil {
			d.logger.Warn("Health check failed", "component", name, "error", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	utils.RespondWithJSON(w, status, map[string]interface{}{
		"status": lo.Ternary(status == http.StatusOK, "ok", "degraded"),
		"checks": results,
	})
}
