// Package session keeps one agent per conversation context and drives it on
// behalf of the wire surfaces.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
)

// Factory builds the agent for a new context.
type Factory func(contextID string) *agent.Agent

// Entry is one live context. Calls on the agent are serialized by Do.
type Entry struct {
	ID string

	mu       sync.Mutex
	agent    *agent.Agent
	lastSeen time.Time
	inFlight int
	seenMu   sync.Mutex
}

// Do runs fn with exclusive access to the entry's agent. The entry counts as
// busy, and is not swept, from the call until fn returns.
func (e *Entry) Do(fn func(a *agent.Agent)) {
	e.begin()
	defer e.end()

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.agent)
}

// LastSeen returns when the entry was last used.
func (e *Entry) LastSeen() time.Time {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	return e.lastSeen
}

func (e *Entry) begin() {
	e.seenMu.Lock()
	e.inFlight++
	e.lastSeen = time.Now()
	e.seenMu.Unlock()
}

func (e *Entry) end() {
	e.seenMu.Lock()
	e.inFlight--
	e.lastSeen = time.Now()
	e.seenMu.Unlock()
}

// idleSince reports whether the entry has no call in flight and was last
// used before threshold.
func (e *Entry) idleSince(threshold time.Time) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	return e.inFlight == 0 && e.lastSeen.Before(threshold)
}

// Manager maps context ids to live agents.
type Manager struct {
	mu      sync.RWMutex
	active  map[string]*Entry
	factory Factory
}

// NewManager creates a manager that builds agents with factory.
func NewManager(factory Factory) *Manager {
	return &Manager{
		active:  make(map[string]*Entry),
		factory: factory,
	}
}

// Get returns the entry for id, if any.
func (m *Manager) Get(id string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.active[id]
	return e, ok
}

// GetOrCreate returns the entry for id, creating it when absent. created is
// true when a new agent was built.
func (m *Manager) GetOrCreate(id string) (e *Entry, created bool) {
	if e, ok := m.Get(id); ok {
		return e, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[id]; ok {
		return e, false
	}
	e = &Entry{ID: id, agent: m.factory(id), lastSeen: time.Now()}
	m.active[id] = e
	slog.Debug("Context registered", "context_id", id)
	return e, true
}

// Evict removes the entry for id. It reports whether one existed.
func (m *Manager) Evict(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[id]; !ok {
		return false
	}
	delete(m.active, id)
	slog.Debug("Context evicted", "context_id", id)
	return true
}

// Len returns the number of live contexts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Sweep evicts entries idle for longer than ttl and returns their ids.
// Entries with a call in flight are kept.
func (m *Manager) Sweep(ttl time.Duration) []string {
	threshold := time.Now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []string
	for id, e := range m.active {
		if e.idleSince(threshold) {
			delete(m.active, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
