// Package agent implements the ALFWorld white agent decision loop.
package agent

import "encoding/json"

// Role identifies the author of a conversation entry.
type Role string

const (
	// RoleSystem carries the role prompt and end-of-episode lessons.
	RoleSystem Role = "system"
	// RoleUser carries observations and meta-messages.
	RoleUser Role = "user"
	// RoleAssistant carries model output.
	RoleAssistant Role = "assistant"
)

// Message is one entry of the transcript sent to the language model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transition records a single observe call. It is never modified after being appended.
type Transition struct {
	Observation string  `json:"observation"`
	Action      string  `json:"action"`
	Reward      float64 `json:"reward"`
	Done        bool    `json:"done"`
	Feedback    string  `json:"feedback,omitempty"`
}

// Observation is the input accepted by Reset: either raw text or a structured
// payload whose Obs field holds the text.
type Observation interface {
	text() string
}

// TextObservation is a plain-text observation.
type TextObservation string

func (o TextObservation) text() string { return string(o) }

// StructObservation is an environment payload exposing an obs field.
type StructObservation struct {
	Obs   string         `json:"obs"`
	Extra map[string]any `json:"-"`
}

func (o StructObservation) text() string { return o.Obs }

// Info is the optional evaluator payload passed to Observe.
// A nil Info is treated as an empty one.
type Info map[string]any

// UnmarshalJSON accepts any JSON value. Anything but an object decodes to a
// nil Info, so malformed evaluator payloads read as "no feedback".
func (i *Info) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		*i = nil
		return nil
	}
	*i = m
	return nil
}

// Feedback returns the evaluator feedback, or "" when absent or not a string.
func (i Info) Feedback() string {
	if i == nil {
		return ""
	}
	if v, ok := i["feedback"].(string); ok {
		return v
	}
	return ""
}

// EpisodeStats is a read-only snapshot of the current episode.
type EpisodeStats struct {
	Steps            int     `json:"steps"`
	Reward           float64 `json:"reward"`
	CleanupScore     float64 `json:"cleanup_score"`
	TrajectoryLength int     `json:"trajectory_length"`
	ReflectionsCount int     `json:"reflections_count"`
	Done             bool    `json:"done"`
	MaxSteps         int     `json:"max_steps"`
}

// Config holds agent construction parameters.
type Config struct {
	SystemPrompt   string
	ModelName      string
	MaxReflections int
	TrackCleanup   bool
	MaxSteps       int
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:   "You are an ALFWorld agent.",
		ModelName:      "gpt-4o",
		MaxReflections: 3,
		TrackCleanup:   true,
		MaxSteps:       50,
	}
}

// episodeState is the per-episode mutable state. Reset replaces it wholesale.
type episodeState struct {
	step            int
	history         []Message
	trajectory      []Transition
	lastObservation string
	lastAction      string
	hasLastAction   bool
	cleanup         *CleanupTracker
	actionSequence  []string
	lastReward      float64
	done            bool
	started         bool
}

func newEpisodeState() *episodeState {
	return &episodeState{cleanup: NewCleanupTracker()}
}
