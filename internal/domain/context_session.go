// Package domain contains the persisted record types of the white agent.
package domain

import (
	"time"
)

// ContextSession is the persisted view of one conversation context.
type ContextSession struct {
	ContextID    string    `json:"context_id"`
	EpisodeCount int       `json:"episode_count"`
	StepCount    int       `json:"step_count"`
	LastAction   string    `json:"last_action,omitempty"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpiresIn returns the time left before the context is idle for ttl.
// Returns 0 if it already is.
func (s *ContextSession) ExpiresIn(ttl time.Duration) time.Duration {
	remaining := time.Until(s.LastSeenAt.Add(ttl))
	if remaining < 0 {
		return 0
	}
	return remaining
}
