package evaluate

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, model agent.Model) *session.Service {
	t.Helper()
	svc := session.NewService(session.Options{Config: agent.DefaultConfig(), Model: model})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestMockAssessor(t *testing.T) {
	t.Parallel()
	m := NewMockAssessor(nil)

	assert.Equal(t, "put apple in fridge", m.Task(0).Goal)
	assert.Equal(t, "turn on lamp", m.Task(3).Goal)
	assert.Equal(t, "Goal: turn on lamp. You are in a living room. A lamp is off.", m.Task(1).InitialObservation())

	tests := []struct {
		action string
		obs    string
		reward float64
		done   bool
	}{
		{"look", "You see more things.", 0, false},
		{"inventory", "You are carrying nothing.", 0, false},
		{"Turn On Lamp", "Task completed.", 1, true},
		{"go to desk 1", "Nothing happened.", 0, false},
	}
	for _, tt := range tests {
		obs, reward, done := m.Assess(tt.action, "turn on lamp")
		assert.Equal(t, tt.obs, obs, tt.action)
		assert.Equal(t, tt.reward, reward, tt.action)
		assert.Equal(t, tt.done, done, tt.action)
	}
}

func TestRunnerFallbackSolvesDefaultTasks(t *testing.T) {
	t.Parallel()
	svc := newService(t, nil)

	results, err := NewRunner(svc, nil, Options{Episodes: 2}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, goal := range []string{"put apple in fridge", "turn on lamp"} {
		assert.Equal(t, i, results[i].Episode)
		assert.Equal(t, goal, results[i].Goal)
		assert.Equal(t, 1.0, results[i].Reward)
		assert.Equal(t, 1, results[i].Steps)
		assert.Equal(t, 1.0, results[i].CleanupScore)
		assert.Equal(t, "Success: completed with '"+goal+"'.", results[i].Reflection)
	}

	snap, err := svc.Stats("evaluation")
	require.NoError(t, err)
	assert.Len(t, snap.Reflections, 2)
}

func TestRunnerForcesDoneAtMaxSteps(t *testing.T) {
	t.Parallel()
	model := agent.ModelFunc(func(context.Context, agent.CompletionRequest) (string, error) {
		return "look", nil
	})
	svc := newService(t, model)

	results, err := NewRunner(svc, nil, Options{Episodes: 1, MaxSteps: 4}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Reward)
	assert.Equal(t, 4, results[0].Steps)
	assert.Contains(t, results[0].Reflection, "Avoid repeating actions like 'look' excessively.")
}

func TestRunnerParallelRuns(t *testing.T) {
	t.Parallel()
	svc := newService(t, nil)

	results, err := NewRunner(svc, nil, Options{Episodes: 3, Runs: 2, ContextPrefix: "par"}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, i, r.Episode)
	}
	assert.Equal(t, 2, svc.ActiveContexts())
}

type failingDriver struct{ *session.Service }

func (failingDriver) Act(context.Context, string, string) (string, error) {
	return "", errors.New("driver down")
}

func TestRunnerPropagatesDriverErrors(t *testing.T) {
	t.Parallel()
	svc := newService(t, nil)

	_, err := NewRunner(failingDriver{svc}, nil, Options{Episodes: 1}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver down")
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	svc := newService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(svc, nil, Options{Episodes: 1}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	results := []Result{
		{Episode: 0, Goal: "turn on lamp", Reward: 1, Steps: 1, CleanupScore: 1, Reflection: "Success: completed with 'turn on lamp'."},
		{Episode: 1, Goal: "put apple in fridge", Reward: 0, Steps: 10, CleanupScore: 0.5, Reflection: "Avoid loops, please"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, results))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"episode", "goal", "reward", "steps", "cleanup_score", "reflection"},
		{"0", "turn on lamp", "1", "1", "1", "Success: completed with 'turn on lamp'."},
		{"1", "put apple in fridge", "0", "10", "0.5", "Avoid loops, please"},
	}, records)
}

func TestWriteCSVFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out", "scores.csv")

	require.NoError(t, WriteCSVFile(path, []Result{{Episode: 0, Goal: "g"}}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "episode,goal,reward,steps,cleanup_score,reflection\n0,g,0,0,0,\n")
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Summary{}, Summarize(nil))

	s := Summarize([]Result{
		{Reward: 1, Steps: 2, CleanupScore: 1},
		{Reward: 0, Steps: 4, CleanupScore: 0},
	})
	assert.Equal(t, 2, s.Episodes)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, s.MeanReward, 1e-9)
	assert.InDelta(t, 3.0, s.MeanSteps, 1e-9)
	assert.InDelta(t, 0.5, s.MeanCleanup, 1e-9)
}
