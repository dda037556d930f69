package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/contextid"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/google/uuid"
)

const jsonRPCVersion = "2.0"

// JSON-RPC and A2A error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeTaskNotFound   = -32001
)

// A2A methods served by HandleRPC.
const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
	MethodTasksCancel   = "tasks/cancel"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Part is one piece of message content. Only text parts are produced.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Message is an A2A conversation message.
type Message struct {
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

// TaskStatus is the state of a cancelled context.
type TaskStatus struct {
	State string `json:"state"`
}

// Task is returned by tasks/cancel.
type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
}

type messageSendParams struct {
	Message Message `json:"message"`
}

type taskIDParams struct {
	ID        string `json:"id"`
	ContextID string `json:"contextId"`
}

// Text joins the text parts of m with newlines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind != "" && p.Kind != "text" {
			continue
		}
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HandleRPC serves A2A JSON-RPC requests posted to the root path.
func (h *Handler) HandleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, nil, codeParseError, "failed to read request body")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nil, codeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		writeRPCError(w, req.ID, codeInvalidRequest, "invalid JSON-RPC request")
		return
	}

	switch req.Method {
	case MethodMessageSend:
		msg, rpcErr := h.sendMessage(r, req.Params)
		if rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
		JSON(w, http.StatusOK, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: msg})
	case MethodMessageStream:
		h.streamMessage(w, r, req)
	case MethodTasksCancel:
		task, rpcErr := h.cancelTask(r, req.Params)
		if rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
		JSON(w, http.StatusOK, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: task})
	default:
		writeRPCError(w, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// sendMessage runs one executor step: the message text is the observation
// and the reply carries the chosen action.
func (h *Handler) sendMessage(r *http.Request, raw json.RawMessage) (*Message, *rpcError) {
	var params messageSendParams
	if len(raw) == 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "params are required"}
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	text := params.Message.Text()
	if text == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "message has no text parts"}
	}

	contextID := h.resolveContextID(r, params.Message.ContextID)
	action, err := h.svc.HandleMessage(r.Context(), contextID, text)
	if err != nil {
		h.logger.Error("Failed to handle message", "context_id", contextID, "error", err)
		return nil, &rpcError{Code: codeInternalError, Message: "failed to handle message"}
	}

	return &Message{
		Kind:      "message",
		Role:      "agent",
		Parts:     []Part{{Kind: "text", Text: action}},
		MessageID: uuid.NewString(),
		ContextID: contextID,
		TaskID:    params.Message.TaskID,
	}, nil
}

// streamMessage answers message/stream with a single SSE event carrying the
// reply message.
func (h *Handler) streamMessage(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, req.ID, codeInternalError, "streaming not supported")
		return
	}

	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID}
	msg, rpcErr := h.sendMessage(r, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = msg
	}
	data, err := json.Marshal(resp)
	if err != nil {
		writeRPCError(w, req.ID, codeInternalError, "failed to encode response")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if err := writeSSE(w, string(data)); err != nil {
		h.logger.Warn("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

func (h *Handler) cancelTask(r *http.Request, raw json.RawMessage) (*Task, *rpcError) {
	var params taskIDParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
		}
	}
	contextID := contextid.Sanitize(params.ContextID)
	if contextID == "" {
		contextID = contextid.Sanitize(params.ID)
	}
	if contextID == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "task id is required"}
	}

	if err := h.svc.Cancel(r.Context(), contextID); err != nil {
		if errors.Is(err, session.ErrUnknownContext) {
			return nil, &rpcError{Code: codeTaskNotFound, Message: "task not found"}
		}
		return nil, &rpcError{Code: codeInternalError, Message: "failed to cancel task"}
	}
	h.disconnect(contextID)

	taskID := params.ID
	if taskID == "" {
		taskID = contextID
	}
	return &Task{
		Kind:      "task",
		ID:        taskID,
		ContextID: contextID,
		Status:    TaskStatus{State: "canceled"},
	}, nil
}

// resolveContextID prefers the message's own context id, then the one
// resolved by contextid.Middleware, then a new one.
func (h *Handler) resolveContextID(r *http.Request, fromMessage string) string {
	if id := contextid.Sanitize(fromMessage); id != "" {
		return id
	}
	if id := contextid.FromContext(r.Context()); id != "" {
		return id
	}
	return contextid.New()
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	JSON(w, http.StatusOK, rpcResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func writeSSE(w io.Writer, data string) error {
	_, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
	return err
}
