package domain

import (
	"time"
)

// EpisodeRecord is a finished episode.
type EpisodeRecord struct {
	ID           string    `json:"id"`
	ContextID    string    `json:"context_id"`
	Steps        int       `json:"steps"`
	Reward       float64   `json:"reward"`
	CleanupScore float64   `json:"cleanup_score"`
	Reflection   string    `json:"reflection"`
	Feedback     string    `json:"feedback,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Succeeded reports whether the final reward was positive.
func (e *EpisodeRecord) Succeeded() bool {
	return e.Reward > 0
}
