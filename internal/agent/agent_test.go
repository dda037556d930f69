package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// scriptedModel replays canned replies in order and records every request.
type scriptedModel struct {
	replies  []string
	requests []CompletionRequest
}

func (m *scriptedModel) Complete(_ context.Context, req CompletionRequest) (string, error) {
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.replies) {
		return "", errors.New("script exhausted")
	}
	return m.replies[i], nil
}

func roles(history []Message) []Role {
	out := make([]Role, len(history))
	for i, m := range history {
		out[i] = m.Role
	}
	return out
}

func equalRoles(got []Role, want ...Role) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestResetEchoesObservation(t *testing.T) {
	t.Parallel()

	a := New(DefaultConfig())
	obs := "You are in the middle of a room. Your task is to: put a clean apple in fridge."

	if got := a.Reset(TextObservation(obs)); got != obs {
		t.Fatalf("Reset() = %q, want %q", got, obs)
	}
	if got := a.Reset(StructObservation{Obs: obs, Extra: map[string]any{"won": false}}); got != obs {
		t.Fatalf("Reset(struct) = %q, want %q", got, obs)
	}

	h := a.History()
	if !equalRoles(roles(h), RoleSystem, RoleUser) {
		t.Fatalf("history roles = %v", roles(h))
	}
	if h[1].Content != "Observation: "+obs {
		t.Fatalf("user entry = %q", h[1].Content)
	}
	if h[0].Content != DefaultConfig().SystemPrompt {
		t.Fatalf("system prompt = %q", h[0].Content)
	}

	stats := a.Stats()
	if stats.Steps != 0 || stats.TrajectoryLength != 0 || stats.Done {
		t.Fatalf("unexpected stats after reset: %+v", stats)
	}
	if stats.CleanupScore != 1.0 {
		t.Fatalf("cleanup score = %v, want 1.0", stats.CleanupScore)
	}
}

func TestActWithoutModelUsesFallback(t *testing.T) {
	t.Parallel()

	var events []ActEvent
	a := New(DefaultConfig(), WithHooks(Hooks{OnAct: func(ev ActEvent) { events = append(events, ev) }}))
	a.Reset(TextObservation("The lamp is off."))

	if got := a.Act(context.Background(), "The lamp is off."); got != "turn on lamp" {
		t.Fatalf("Act() = %q, want turn on lamp", got)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Source != SourceFallback || !errors.Is(events[0].Failure, ErrModelUnavailable) {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if !equalRoles(roles(a.History()), RoleSystem, RoleUser, RoleAssistant) {
		t.Fatalf("history roles = %v", roles(a.History()))
	}
}

func TestActModelFailuresFallBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model Model
	}{
		{"error", ModelFunc(func(context.Context, CompletionRequest) (string, error) {
			return "", errors.New("boom")
		})},
		{"empty reply", ModelFunc(func(context.Context, CompletionRequest) (string, error) {
			return "   \n", nil
		})},
		{"panic", ModelFunc(func(context.Context, CompletionRequest) (string, error) {
			panic("client exploded")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := New(DefaultConfig(), WithModel(tt.model))
			a.Reset(TextObservation("You see an apple and a fridge."))
			got := a.Act(context.Background(), "You see an apple and a fridge.")
			if got != "put apple in fridge" {
				t.Fatalf("Act() = %q, want put apple in fridge", got)
			}
			h := a.History()
			if last := h[len(h)-1]; last.Role != RoleAssistant || last.Content != got {
				t.Fatalf("last history entry = %+v", last)
			}
		})
	}
}

func TestActParsesModelReply(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{replies: []string{"> think: the apple is likely on the counter\ngo to countertop 1"}}
	a := New(DefaultConfig(), WithModel(m))
	a.Reset(TextObservation("You are in a kitchen."))

	if got := a.Act(context.Background(), "You are in a kitchen."); got != "go to countertop 1" {
		t.Fatalf("Act() = %q", got)
	}
	if len(m.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(m.requests))
	}
	req := m.requests[0]
	if req.Model != "gpt-4o" || req.Temperature != 0 {
		t.Fatalf("unexpected request: model=%q temperature=%v", req.Model, req.Temperature)
	}
	if !equalRoles(roles(req.Messages), RoleSystem, RoleUser) {
		t.Fatalf("request roles = %v", roles(req.Messages))
	}
	if strings.Contains(req.Messages[1].Content, "[Note:") {
		t.Fatal("first act must not carry a repetition note")
	}

	h := a.History()
	if h[len(h)-1].Content != m.replies[0] {
		t.Fatalf("assistant entry should keep the raw reply, got %q", h[len(h)-1].Content)
	}
}

func TestActAddsRepetitionNoteToTranscriptOnly(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{replies: []string{"go to fridge 1", "open fridge 1"}}
	a := New(DefaultConfig(), WithModel(m))
	a.Reset(TextObservation("You are in a kitchen."))

	ctx := context.Background()
	a.Act(ctx, "You are in a kitchen.")
	a.Observe("go to fridge 1", 0, false, nil)
	if got := a.Act(ctx, "You arrive at fridge 1. The fridge 1 is closed."); got != "open fridge 1" {
		t.Fatalf("Act() = %q", got)
	}

	msgs := m.requests[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != RoleUser || !strings.HasSuffix(last.Content, "[Note: Avoid repeating 'go to fridge 1' if it didn't work.]") {
		t.Fatalf("transcript tail = %+v", last)
	}

	for _, entry := range a.History() {
		if strings.Contains(entry.Content, "[Note:") {
			t.Fatal("repetition note leaked into stored history")
		}
	}
	if !equalRoles(roles(a.History()), RoleSystem, RoleUser, RoleAssistant, RoleUser, RoleAssistant) {
		t.Fatalf("history roles = %v", roles(a.History()))
	}
}

func TestActRetriesOnRepetition(t *testing.T) {
	t.Parallel()

	var events []ActEvent
	m := &scriptedModel{replies: []string{"look", "look", "inventory"}}
	a := New(DefaultConfig(), WithModel(m), WithHooks(Hooks{OnAct: func(ev ActEvent) { events = append(events, ev) }}))
	a.Reset(TextObservation("You are in a room."))

	ctx := context.Background()
	a.Act(ctx, "You are in a room.")
	a.Observe("look", 0, false, nil)

	if got := a.Act(ctx, "You are in a room."); got != "inventory" {
		t.Fatalf("Act() = %q, want inventory", got)
	}
	if len(m.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(m.requests))
	}

	retry := m.requests[2]
	if retry.Temperature != retryTemperature {
		t.Fatalf("retry temperature = %v", retry.Temperature)
	}
	tail := retry.Messages[len(retry.Messages)-1]
	if tail.Content != "You just did 'look' and it didn't help. Try a DIFFERENT action." {
		t.Fatalf("retry prompt = %q", tail.Content)
	}

	ev := events[len(events)-1]
	if !ev.Repeated || ev.Source != SourceRetry {
		t.Fatalf("unexpected event: %+v", ev)
	}
	h := a.History()
	if h[len(h)-1].Content != "inventory" {
		t.Fatalf("assistant entry = %q", h[len(h)-1].Content)
	}
}

func TestActKeepsFirstActionWhenRetryDoesNotHelp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		replies []string
	}{
		{"retry repeats", []string{"look", "look", "Action: look"}},
		{"retry fails", []string{"look", "look"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := &scriptedModel{replies: tt.replies}
			a := New(DefaultConfig(), WithModel(m))
			a.Reset(TextObservation("You are in a room."))

			ctx := context.Background()
			a.Act(ctx, "You are in a room.")
			a.Observe("look", 0, false, nil)
			if got := a.Act(ctx, "You are in a room."); got != "look" {
				t.Fatalf("Act() = %q, want look", got)
			}
			if len(m.requests) != 3 {
				t.Fatalf("requests = %d, want 3", len(m.requests))
			}
		})
	}
}

func TestActWithoutResetSelfRepairs(t *testing.T) {
	t.Parallel()

	a := New(DefaultConfig())
	got := a.Act(context.Background(), "Your inventory is empty.")
	if got != "inventory" {
		t.Fatalf("Act() = %q, want inventory", got)
	}

	h := a.History()
	if !equalRoles(roles(h), RoleSystem, RoleUser, RoleAssistant) {
		t.Fatalf("history roles = %v", roles(h))
	}
	if h[1].Content != "Observation: Your inventory is empty." {
		t.Fatalf("user entry = %q", h[1].Content)
	}
	if a.NeedsReset() {
		t.Fatal("agent should be mid-episode after a self-repaired act")
	}
}

func TestEpisodeEndStoresReflection(t *testing.T) {
	t.Parallel()

	var ended []EpisodeEvent
	m := &scriptedModel{replies: []string{"go to fridge 1", "open fridge 1", "put apple 1 in/on fridge 1"}}
	a := New(DefaultConfig(), WithModel(m), WithHooks(Hooks{
		OnEpisodeEnd: func(ev EpisodeEvent) { ended = append(ended, ev) },
	}))

	ctx := context.Background()
	a.Reset(TextObservation("You are in a kitchen. Your task is to: put an apple in fridge."))
	if a.NeedsReset() {
		t.Fatal("NeedsReset after Reset")
	}

	steps := []struct {
		obs    string
		reward float64
		done   bool
	}{
		{"You are in a kitchen.", 0, false},
		{"You arrive at fridge 1. The fridge 1 is closed.", 0, false},
		{"You open the fridge 1. The fridge 1 is open.", 1, true},
	}
	for _, s := range steps {
		action := a.Act(ctx, s.obs)
		a.Observe(action, s.reward, s.done, Info{"feedback": "task complete"})
	}

	stats := a.Stats()
	if stats.Steps != 3 || stats.TrajectoryLength != 3 || !stats.Done || stats.Reward != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.CleanupScore != 0 {
		t.Fatalf("cleanup score = %v, want 0", stats.CleanupScore)
	}
	if stats.ReflectionsCount != 1 {
		t.Fatalf("reflections = %d, want 1", stats.ReflectionsCount)
	}
	if !a.NeedsReset() {
		t.Fatal("NeedsReset should be true after done")
	}

	wantLesson := "Always close containers/appliances after use. Success: completed with 'put apple 1 in/on fridge 1'."
	if got := a.Reflections(); len(got) != 1 || got[0] != wantLesson {
		t.Fatalf("reflections = %v", got)
	}

	h := a.History()
	summary, lesson := h[len(h)-2], h[len(h)-1]
	if summary.Role != RoleUser || summary.Content != "Episode finished. Reward: 1.0. Cleanup score: 0%. Evaluator feedback: task complete" {
		t.Fatalf("summary entry = %+v", summary)
	}
	if lesson.Role != RoleSystem || lesson.Content != "Lesson learned: "+wantLesson {
		t.Fatalf("lesson entry = %+v", lesson)
	}

	if len(ended) != 1 || ended[0].Reflection != wantLesson || len(ended[0].Trajectory) != 3 {
		t.Fatalf("episode events = %+v", ended)
	}

	a.Reset(TextObservation("New task."))
	prompt := a.History()[0].Content
	if !strings.Contains(prompt, "Recent lessons from past episodes:\n- "+wantLesson) {
		t.Fatalf("next system prompt missing lesson: %q", prompt)
	}
	if a.Stats().ReflectionsCount != 1 {
		t.Fatal("reflections must survive reset")
	}
}

func TestReflectionsBoundedAcrossEpisodes(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxReflections = 2
	a := New(cfg)

	for i := 0; i < 5; i++ {
		a.Reset(TextObservation(fmt.Sprintf("episode %d", i)))
		action := a.Act(context.Background(), "The plate is dirty.")
		a.Observe(action, 0, true, nil)
	}

	if got := a.Stats().ReflectionsCount; got != 2 {
		t.Fatalf("reflections = %d, want 2", got)
	}
}

func TestObserveWithoutCleanupTracking(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TrackCleanup = false
	a := New(cfg)
	a.Reset(TextObservation("start"))
	a.Observe("open fridge 1", 0, false, nil)

	if got := a.Stats().CleanupScore; got != 1.0 {
		t.Fatalf("cleanup score = %v, want 1.0", got)
	}
}

func TestObserveMidEpisodeLeavesHistory(t *testing.T) {
	t.Parallel()

	a := New(DefaultConfig())
	a.Reset(TextObservation("start"))
	before := len(a.History())
	a.Observe("look", 0, false, Info{"feedback": 42})

	if len(a.History()) != before {
		t.Fatal("non-terminal observe must not touch history")
	}
	if tr := a.Trajectory(); len(tr) != 1 || tr[0].Feedback != "" || tr[0].Observation != "start" {
		t.Fatalf("trajectory = %+v", tr)
	}
}

func TestFormatReward(t *testing.T) {
	t.Parallel()

	tests := map[float64]string{
		0:    "0.0",
		1:    "1.0",
		0.5:  "0.5",
		-1:   "-1.0",
		0.25: "0.25",
	}
	for in, want := range tests {
		if got := formatReward(in); got != want {
			t.Errorf("formatReward(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestActBlankReplyUsesFallback(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []string{"  \n "}}
	a := New(DefaultConfig(), WithModel(model))
	a.Reset(TextObservation("start"))

	if got := a.Act(context.Background(), "The lamp is off."); got != "turn on lamp" {
		t.Fatalf("Act() = %q, want %q", got, "turn on lamp")
	}
	if len(model.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(model.requests))
	}
}
