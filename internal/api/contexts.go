package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/contextid"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/go-chi/chi/v5"
)

const (
	defaultEpisodeLimit = 20
	maxEpisodeLimit     = 200
)

// ResetRequest starts an episode. Obs, when set, is treated as a structured
// environment payload; otherwise Observation is plain text.
type ResetRequest struct {
	Observation string  `json:"observation"`
	Obs         *string `json:"obs,omitempty"`
}

// ActRequest asks for the next action.
type ActRequest struct {
	Observation string `json:"observation"`
}

func pathContextID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := contextid.Sanitize(chi.URLParam(r, "contextID"))
	if id == "" {
		Error(w, http.StatusBadRequest, "invalid context id")
		return "", false
	}
	return id, true
}

// ResetEpisode handles POST /api/contexts/{contextID}/reset.
func (h *Handler) ResetEpisode(w http.ResponseWriter, r *http.Request) {
	contextID, ok := pathContextID(w, r)
	if !ok {
		return
	}
	var req ResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var obs agent.Observation = agent.TextObservation(req.Observation)
	if req.Obs != nil {
		obs = agent.StructObservation{Obs: *req.Obs}
	}
	text, err := h.svc.Reset(r.Context(), contextID, obs)
	if err != nil {
		h.logger.Error("Failed to reset episode", "context_id", contextID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset episode")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"context_id":  contextID,
		"observation": text,
	})
}

// Act handles POST /api/contexts/{contextID}/act.
func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	contextID, ok := pathContextID(w, r)
	if !ok {
		return
	}
	var req ActRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	action, err := h.svc.Act(r.Context(), contextID, req.Observation)
	if err != nil {
		h.logger.Error("Failed to act", "context_id", contextID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to choose action")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"context_id": contextID,
		"action":     action,
	})
}

// Observe handles POST /api/contexts/{contextID}/observe.
func (h *Handler) Observe(w http.ResponseWriter, r *http.Request) {
	contextID, ok := pathContextID(w, r)
	if !ok {
		return
	}
	var in session.ObserveInput
	if err := decodeJSON(w, r, &in); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.svc.Observe(r.Context(), contextID, in)
	if err != nil {
		h.writeServiceError(w, contextID, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// GetStats handles GET /api/contexts/{contextID}.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	contextID, ok := pathContextID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.Stats(contextID)
	if err != nil {
		h.writeServiceError(w, contextID, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// ListEpisodes handles GET /api/contexts/{contextID}/episodes.
func (h *Handler) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	contextID, ok := pathContextID(w, r)
	if !ok {
		return
	}
	limit := defaultEpisodeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxEpisodeLimit)
	}

	episodes, err := h.svc.Episodes(r.Context(), contextID, limit)
	if err != nil {
		h.logger.Error("Failed to list episodes", "context_id", contextID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list episodes")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"context_id": contextID,
		"episodes":   episodes,
	})
}

// CancelContext handles DELETE /api/contexts/{contextID}.
func (h *Handler) CancelContext(w http.ResponseWriter, r *http.Request) {
	contextID, ok := pathContextID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), contextID); err != nil {
		h.writeServiceError(w, contextID, err)
		return
	}
	h.disconnect(contextID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, contextID string, err error) {
	if errors.Is(err, session.ErrUnknownContext) {
		Error(w, http.StatusNotFound, "unknown context")
		return
	}
	h.logger.Error("Context operation failed", "context_id", contextID, "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
