package api

import (
	"context"
	"net/http"
)

// Status reports that the agent is up and ready to act.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"agent":   h.card.Name,
		"version": h.card.Version,
		"ready":   true,
	})
}

// Health returns the health status of the API and its database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
