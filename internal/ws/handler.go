package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/contextid"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/coder/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Frame types accepted from clients.
const (
	TypeReset     = "reset"
	TypeAct       = "act"
	TypeObserve   = "observe"
	TypeStats     = "stats"
	TypePing      = "ping"
	TypeTerminate = "terminate"
)

// Frame is a client message.
type Frame struct {
	Type        string     `json:"type"`
	Observation string     `json:"observation,omitempty"`
	Obs         *string    `json:"obs,omitempty"`
	Action      string     `json:"action,omitempty"`
	Reward      float64    `json:"reward,omitempty"`
	Done        bool       `json:"done,omitempty"`
	Info        agent.Info `json:"info,omitempty"`
}

// Reply is a server message.
type Reply struct {
	Type        string            `json:"type"`
	ContextID   string            `json:"context_id,omitempty"`
	Observation string            `json:"observation,omitempty"`
	Action      string            `json:"action,omitempty"`
	Snapshot    *session.Snapshot `json:"snapshot,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Handler upgrades requests to an episode channel bound to one context.
type Handler struct {
	svc            *session.Service
	registry       *Registry
	originPatterns []string
	logger         *slog.Logger
}

// NewHandler creates a new WebSocket handler. originPatterns follow
// websocket.AcceptOptions; empty means same-origin only.
func NewHandler(svc *session.Service, registry *Registry, originPatterns []string, logger *slog.Logger) *Handler {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:            svc,
		registry:       registry,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	contextID := contextid.FromContext(r.Context())
	if contextID == "" {
		contextID, _ = contextid.FromRequest(r)
	}
	h.logger.Info("WebSocket connection request", "context_id", contextID, "ip", r.RemoteAddr)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "context_id", contextID)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "context_id", contextID)
		}
	}()

	h.registry.Register(contextID, conn)
	defer h.registry.Unregister(contextID, conn)

	ctx := r.Context()
	if err := h.writeJSON(ctx, conn, Reply{Type: "connected", ContextID: contextID}); err != nil {
		h.logger.Debug("Failed to send connected frame", "error", err)
		return
	}
	h.readLoop(ctx, conn, contextID)
	h.logger.Info("Episode channel ended", "context_id", contextID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, contextID string) {
	for {
		_, message, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed", "context_id", contextID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "context_id", contextID)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			if err := h.writeJSON(ctx, conn, Reply{Type: "error", Error: "invalid frame"}); err != nil {
				return
			}
			continue
		}

		reply, stop := h.dispatch(ctx, contextID, frame)
		if err := h.writeJSON(ctx, conn, reply); err != nil {
			h.logger.Debug("Failed to write reply", "error", err, "context_id", contextID)
			return
		}
		if stop {
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, contextID string, frame Frame) (Reply, bool) {
	switch frame.Type {
	case TypeReset:
		var obs agent.Observation = agent.TextObservation(frame.Observation)
		if frame.Obs != nil {
			obs = agent.StructObservation{Obs: *frame.Obs}
		}
		text, err := h.svc.Reset(ctx, contextID, obs)
		if err != nil {
			return errorReply(contextID, err), false
		}
		return Reply{Type: "observation", ContextID: contextID, Observation: text}, false
	case TypeAct:
		action, err := h.svc.Act(ctx, contextID, frame.Observation)
		if err != nil {
			return errorReply(contextID, err), false
		}
		return Reply{Type: "action", ContextID: contextID, Action: action}, false
	case TypeObserve:
		snap, err := h.svc.Observe(ctx, contextID, session.ObserveInput{
			Action: frame.Action,
			Reward: frame.Reward,
			Done:   frame.Done,
			Info:   frame.Info,
		})
		if err != nil {
			return errorReply(contextID, err), false
		}
		return Reply{Type: "snapshot", ContextID: contextID, Snapshot: &snap}, false
	case TypeStats:
		snap, err := h.svc.Stats(contextID)
		if err != nil {
			return errorReply(contextID, err), false
		}
		return Reply{Type: "snapshot", ContextID: contextID, Snapshot: &snap}, false
	case TypePing:
		return Reply{Type: "pong"}, false
	case TypeTerminate:
		h.logger.Info("Episode channel terminate requested", "context_id", contextID)
		return Reply{Type: "terminated", ContextID: contextID}, true
	default:
		return Reply{Type: "error", ContextID: contextID, Error: "unknown frame type"}, false
	}
}

func errorReply(contextID string, err error) Reply {
	msg := "internal error"
	if errors.Is(err, session.ErrUnknownContext) {
		msg = "unknown context"
	}
	return Reply{Type: "error", ContextID: contextID, Error: msg}
}

func (h *Handler) writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
