// Package api provides HTTP handlers for the white agent.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/metrics"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	defaultMaxRequestBodySize = 1 << 20 // 1MB
	defaultHealthCheckTimeout = 5 * time.Second
)

// cardPaths are the aliases the agent card is served under.
var cardPaths = []string{
	"/.well-known/agent.json",
	"/.well-known/agent-card.json",
	"/agent.json",
	"/agent-card.json",
	"/agent-card",
}

// Options wires a Handler. Service and Card are required.
type Options struct {
	Service *session.Service
	Repo    store.Repository
	Metrics *metrics.Metrics
	Card    AgentCard
	// Limiter throttles agent calls per context. Nil disables throttling.
	Limiter *ContextLimiter
	// Disconnect is called after a context is cancelled, to close its
	// live channels.
	Disconnect func(contextID string)
	// Landing is served on GET / when set.
	Landing            http.Handler
	HealthCheckTimeout time.Duration
	Logger             *slog.Logger
}

// Handler serves the agent's HTTP surface.
type Handler struct {
	svc           *session.Service
	repo          store.Repository
	metrics       *metrics.Metrics
	card          AgentCard
	limiter       *ContextLimiter
	disconnect    func(string)
	landing       http.Handler
	healthTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		svc:           opts.Service,
		repo:          opts.Repo,
		metrics:       opts.Metrics,
		card:          opts.Card,
		limiter:       opts.Limiter,
		disconnect:    opts.Disconnect,
		landing:       opts.Landing,
		healthTimeout: opts.HealthCheckTimeout,
		logger:        opts.Logger,
	}
	if h.healthTimeout <= 0 {
		h.healthTimeout = defaultHealthCheckTimeout
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.disconnect == nil {
		h.disconnect = func(string) {}
	}
	return h
}

// RegisterRoutes registers every route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, path := range cardPaths {
		r.Get(path, h.GetCard)
	}
	r.Get("/status", h.Status)
	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	if h.landing != nil {
		r.Method(http.MethodGet, "/", h.landing)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.limiter.Middleware)
		r.Post("/", h.HandleRPC)
		r.Route("/api/contexts/{contextID}", func(r chi.Router) {
			r.Get("/", h.GetStats)
			r.Delete("/", h.CancelContext)
			r.Get("/episodes", h.ListEpisodes)
			r.Post("/reset", h.ResetEpisode)
			r.Post("/act", h.Act)
			r.Post("/observe", h.Observe)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a size-limited request body into v. An empty body
// leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
