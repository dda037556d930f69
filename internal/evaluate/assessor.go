// Package evaluate runs the agent against a mock assessor and records scores.
package evaluate

import "strings"

// Task is one household task offered by the assessor.
type Task struct {
	Goal        string
	Observation string
}

// DefaultTasks are the tasks of the mock assessor.
var DefaultTasks = []Task{
	{Goal: "put apple in fridge", Observation: "You are in a kitchen. There is an apple on the table."},
	{Goal: "turn on lamp", Observation: "You are in a living room. A lamp is off."},
}

// MockAssessor plays the environment side of an episode with canned replies.
type MockAssessor struct {
	tasks []Task
}

// NewMockAssessor creates an assessor over tasks, or DefaultTasks when empty.
func NewMockAssessor(tasks []Task) *MockAssessor {
	if len(tasks) == 0 {
		tasks = DefaultTasks
	}
	return &MockAssessor{tasks: tasks}
}

// Task returns the task for episode i, cycling through the task list.
func (m *MockAssessor) Task(i int) Task {
	return m.tasks[i%len(m.tasks)]
}

// InitialObservation is the first observation of an episode on t.
func (t Task) InitialObservation() string {
	return "Goal: " + t.Goal + ". " + t.Observation
}

// Assess answers action. Only the exact goal command completes the task.
func (m *MockAssessor) Assess(action, goal string) (observation string, reward float64, done bool) {
	a := strings.ToLower(strings.TrimSpace(action))
	switch {
	case strings.Contains(a, "look"):
		return "You see more things.", 0, false
	case strings.Contains(a, "inventory"):
		return "You are carrying nothing.", 0, false
	case a == strings.ToLower(strings.TrimSpace(goal)):
		return "Task completed.", 1, true
	default:
		return "Nothing happened.", 0, false
	}
}
