package agent

import "strings"

// CleanupTracker records which containers were opened and closed during an episode.
type CleanupTracker struct {
	opened map[string]struct{}
	closed map[string]struct{}
}

// NewCleanupTracker returns an empty tracker.
func NewCleanupTracker() *CleanupTracker {
	return &CleanupTracker{
		opened: make(map[string]struct{}),
		closed: make(map[string]struct{}),
	}
}

// Track updates the opened/closed sets when action starts with "open " or "close ".
func (c *CleanupTracker) Track(action string) {
	lower := strings.ToLower(action)
	switch {
	case strings.HasPrefix(lower, "open "):
		c.opened[strings.TrimSpace(strings.TrimPrefix(lower, "open "))] = struct{}{}
	case strings.HasPrefix(lower, "close "):
		c.closed[strings.TrimSpace(strings.TrimPrefix(lower, "close "))] = struct{}{}
	}
}

// Score is the fraction of opened containers that were also closed.
// An episode that opened nothing scores 1.
func (c *CleanupTracker) Score() float64 {
	if len(c.opened) == 0 {
		return 1.0
	}
	closed := 0
	for name := range c.opened {
		if _, ok := c.closed[name]; ok {
			closed++
		}
	}
	return float64(closed) / float64(len(c.opened))
}

// Opened returns the number of distinct containers opened.
func (c *CleanupTracker) Opened() int { return len(c.opened) }
