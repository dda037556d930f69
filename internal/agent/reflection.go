package agent

import (
	"fmt"
	"strings"
)

const (
	noTrajectoryLesson = "No trajectory recorded."
	maxLessonClauses   = 2
	repeatThreshold    = 3
)

// Summarize turns a finished trajectory into a short behavioural lesson.
//
// Rules are applied in priority order and only the first two clauses are kept:
// cleanup, repeated action, navigation loop, then success or a failure hint.
func Summarize(trajectory []Transition, cleanupScore float64) string {
	if len(trajectory) == 0 {
		return noTrajectoryLesson
	}
	last := trajectory[len(trajectory)-1]

	var lessons []string
	if cleanupScore < 1.0 {
		lessons = append(lessons, "Always close containers/appliances after use.")
	}

	actions := make([]string, len(trajectory))
	for i, t := range trajectory {
		actions[i] = t.Action
	}
	if repeated, ok := firstRepeated(actions, repeatThreshold); ok {
		lessons = append(lessons, fmt.Sprintf("Avoid repeating actions like '%s' excessively.", repeated))
	}
	if HasNavigationLoop(actions) {
		lessons = append(lessons, "Avoid navigation loops (going back and forth).")
	}

	switch {
	case last.Reward > 0:
		lessons = append(lessons, fmt.Sprintf("Success: completed with '%s'.", last.Action))
	case last.Done:
		lessons = append(lessons, failureLesson(last.Observation))
	}

	if len(lessons) == 0 {
		lessons = append(lessons, "Continue systematic exploration.")
	}
	if len(lessons) > maxLessonClauses {
		lessons = lessons[:maxLessonClauses]
	}
	return strings.Join(lessons, " ")
}

// firstRepeated returns the action, in order of first occurrence, whose total
// count reaches threshold.
func firstRepeated(actions []string, threshold int) (string, bool) {
	counts := make(map[string]int, len(actions))
	var order []string
	for _, a := range actions {
		if counts[a] == 0 {
			order = append(order, a)
		}
		counts[a]++
	}
	for _, a := range order {
		if counts[a] >= threshold {
			return a, true
		}
	}
	return "", false
}

func failureLesson(observation string) string {
	obs := strings.ToLower(observation)
	switch {
	case strings.Contains(obs, "clean") || strings.Contains(obs, "dirty"):
		return "Verify object state (clean/dirty) before placing."
	case strings.Contains(obs, "hot") || strings.Contains(obs, "cold"):
		return "Verify temperature state before placing."
	default:
		return "Try alternative exploration paths when stuck."
	}
}

// ReflectionStore keeps the most recent lessons, newest first.
type ReflectionStore struct {
	lessons  []string
	capacity int
}

// NewReflectionStore creates a store holding at most capacity lessons.
func NewReflectionStore(capacity int) *ReflectionStore {
	if capacity <= 0 {
		capacity = DefaultConfig().MaxReflections
	}
	return &ReflectionStore{
		lessons:  make([]string, 0, capacity+1),
		capacity: capacity,
	}
}

// Add inserts lesson at the front and drops the oldest beyond capacity.
// Empty lessons are ignored.
func (s *ReflectionStore) Add(lesson string) {
	if lesson == "" {
		return
	}
	s.lessons = append([]string{lesson}, s.lessons...)
	if len(s.lessons) > s.capacity {
		s.lessons = s.lessons[:s.capacity]
	}
}

// Lessons returns a copy of the stored lessons, newest first.
func (s *ReflectionStore) Lessons() []string {
	out := make([]string, len(s.lessons))
	copy(out, s.lessons)
	return out
}

// Len returns the number of stored lessons.
func (s *ReflectionStore) Len() int { return len(s.lessons) }

// Render formats the lessons as a prompt block, or "" when empty.
func (s *ReflectionStore) Render() string {
	if len(s.lessons) == 0 {
		return ""
	}
	return "Recent lessons from past episodes:\n- " + strings.Join(s.lessons, "\n- ")
}
