// Package ws serves the WebSocket episode channel.
package ws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live connection of each context. A context has at
// most one connection; a newer one replaces the older.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*websocket.Conn)}
}

// Get returns the live connection of contextID, or nil.
func (r *Registry) Get(contextID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[contextID]
}

// Register makes conn the connection of contextID, closing any previous one.
func (r *Registry) Register(contextID string, conn *websocket.Conn) {
	r.mu.Lock()
	existing, exists := r.active[contextID]
	r.active[contextID] = conn
	r.mu.Unlock()

	// Close waits for the peer's handshake, so it must not hold up the caller.
	if exists && existing != conn {
		go func() {
			_ = existing.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		}()
	}
	slog.Info("Episode channel registered", "context_id", contextID)
}

// Unregister removes conn if it is still the connection of contextID.
func (r *Registry) Unregister(contextID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.active[contextID]; exists && current == conn {
		delete(r.active, contextID)
		slog.Info("Episode channel unregistered", "context_id", contextID)
	}
}

// Disconnect starts closing the connection of contextID, if any.
func (r *Registry) Disconnect(contextID string) {
	r.mu.Lock()
	conn, ok := r.active[contextID]
	delete(r.active, contextID)
	r.mu.Unlock()

	if !ok {
		return
	}
	go func() {
		_ = conn.Close(websocket.StatusNormalClosure, "context cancelled")
	}()
	slog.Info("Episode channel closed", "context_id", contextID)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
