package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const (
	observationPrefix = "Observation: "
	lessonPrefix      = "Lesson learned: "
	retryTemperature  = 0.2
)

// Agent plays one conversation. It is not safe for concurrent use; callers
// keep one Agent per context and serialize calls on it.
type Agent struct {
	cfg         Config
	model       Model
	reflections *ReflectionStore
	state       *episodeState
	hooks       Hooks
	logger      *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the language-model capability. Without it the agent only
// uses the fallback heuristic.
func WithModel(m Model) Option {
	return func(a *Agent) {
		a.model = m
	}
}

// WithHooks sets lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(a *Agent) {
		a.hooks = h
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an agent with an empty episode and reflection store.
func New(cfg Config, opts ...Option) *Agent {
	defaults := DefaultConfig()
	if cfg.MaxReflections <= 0 {
		cfg.MaxReflections = defaults.MaxReflections
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaults.SystemPrompt
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaults.ModelName
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaults.MaxSteps
	}

	a := &Agent{
		cfg:         cfg,
		reflections: NewReflectionStore(cfg.MaxReflections),
		state:       newEpisodeState(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SystemPrompt is the base role prompt followed by the recent lessons, if any.
func (a *Agent) SystemPrompt() string {
	lessons := a.reflections.Render()
	if lessons == "" {
		return a.cfg.SystemPrompt
	}
	return a.cfg.SystemPrompt + "\n\n---\n" + lessons
}

// Reset starts a fresh episode and returns the observation text unchanged.
func (a *Agent) Reset(obs Observation) string {
	var text string
	if obs != nil {
		text = obs.text()
	}

	st := newEpisodeState()
	st.history = []Message{
		{Role: RoleSystem, Content: a.SystemPrompt()},
		{Role: RoleUser, Content: observationPrefix + text},
	}
	st.lastObservation = text
	st.started = true
	a.state = st

	a.logger.Debug("episode reset", "reflections", a.reflections.Len())
	return text
}

// Act chooses the next command for observation. It always returns a
// non-empty command; model failures fall back to a keyword heuristic.
func (a *Agent) Act(ctx context.Context, observation string) string {
	st := a.state
	st.lastObservation = observation

	switch n := len(st.history); {
	case n == 0:
		st.history = []Message{
			{Role: RoleSystem, Content: a.SystemPrompt()},
			{Role: RoleUser, Content: observationPrefix + observation},
		}
		st.step = 0
		st.started = true
	case st.history[n-1].Role == RoleAssistant:
		st.history = append(st.history, Message{Role: RoleUser, Content: observationPrefix + observation})
	}

	ev := ActEvent{Observation: observation, Source: SourceFallback}
	var content, action string

	if a.model == nil {
		ev.Failure = ErrModelUnavailable
		a.logger.Debug("model not configured, using fallback policy")
	} else {
		transcript := a.transcript()
		first := complete(ctx, a.model, CompletionRequest{
			Model:       a.cfg.ModelName,
			Messages:    transcript,
			Temperature: 0,
		})
		if first.ok() {
			content = first.text
			action = ExtractAction(content)
			ev.Source = SourceModel

			if DetectRepetition(action, st.lastAction) {
				ev.Repeated = true
				content, action, ev.Source = a.retry(ctx, transcript, content, action)
			}
		} else {
			ev.Failure = first.reason
			a.logger.Warn("model call failed, using fallback policy", "error", first.reason)
		}
	}

	if action == "" {
		action = FallbackAction(observation)
		ev.Source = SourceFallback
	}
	if content == "" {
		content = action
	}

	ev.Cycle = DetectCycle(st.actionSequence, action, CycleWindow)
	if ev.Cycle {
		a.logger.Debug("navigation loop detected", "action", action)
	}

	st.history = append(st.history, Message{Role: RoleAssistant, Content: content})
	st.lastAction = action
	st.hasLastAction = true
	st.actionSequence = append(st.actionSequence, action)

	ev.Action = action
	ev.Raw = content
	a.hooks.act(ev)
	return action
}

// retry asks the model once more for a different action. The retry result is
// adopted only when it parses to a different action.
func (a *Agent) retry(ctx context.Context, transcript []Message, content, action string) (string, string, ActionSource) {
	messages := make([]Message, len(transcript), len(transcript)+1)
	copy(messages, transcript)
	messages = append(messages, Message{
		Role:    RoleUser,
		Content: fmt.Sprintf("You just did '%s' and it didn't help. Try a DIFFERENT action.", action),
	})

	res := complete(ctx, a.model, CompletionRequest{
		Model:       a.cfg.ModelName,
		Messages:    messages,
		Temperature: retryTemperature,
	})
	if !res.ok() {
		a.logger.Warn("repetition retry failed, keeping first action", "action", action, "error", res.reason)
		return content, action, SourceModel
	}

	retryAction := ExtractAction(res.text)
	if retryAction == action {
		return content, action, SourceModel
	}
	return res.text, retryAction, SourceRetry
}

// transcript copies the history and appends a repetition warning to the
// trailing user entry. The stored history is left untouched.
func (a *Agent) transcript() []Message {
	st := a.state
	messages := make([]Message, len(st.history))
	copy(messages, st.history)

	if !st.hasLastAction {
		return messages
	}
	if n := len(messages); n > 0 && messages[n-1].Role == RoleUser {
		warning := fmt.Sprintf("[Note: Avoid repeating '%s' if it didn't work.]", st.lastAction)
		messages[n-1] = Message{Role: RoleUser, Content: messages[n-1].Content + "\n" + warning}
	}
	return messages
}

// Observe records the outcome of action. When done is set the episode is
// summarized and the lesson stored for the next Reset.
func (a *Agent) Observe(action string, reward float64, done bool, info Info) {
	st := a.state
	st.step++
	st.lastReward = reward
	st.done = done

	if a.cfg.TrackCleanup {
		st.cleanup.Track(action)
	}

	feedback := info.Feedback()
	st.trajectory = append(st.trajectory, Transition{
		Observation: st.lastObservation,
		Action:      action,
		Reward:      reward,
		Done:        done,
		Feedback:    feedback,
	})

	if !done {
		return
	}

	score := st.cleanup.Score()
	reflection := Summarize(st.trajectory, score)
	a.reflections.Add(reflection)

	summary := fmt.Sprintf("Episode finished. Reward: %s. Cleanup score: %.0f%%.", formatReward(reward), score*100)
	if feedback != "" {
		summary += " Evaluator feedback: " + feedback
	}
	st.history = append(st.history,
		Message{Role: RoleUser, Content: summary},
		Message{Role: RoleSystem, Content: lessonPrefix + reflection},
	)

	a.logger.Info("episode finished",
		"steps", st.step,
		"reward", reward,
		"cleanup_score", score,
		"reflection", reflection,
	)

	trajectory := make([]Transition, len(st.trajectory))
	copy(trajectory, st.trajectory)
	a.hooks.episodeEnd(EpisodeEvent{
		Stats:      a.Stats(),
		Reflection: reflection,
		Feedback:   feedback,
		Trajectory: trajectory,
	})
}

// Stats returns a snapshot of the current episode.
func (a *Agent) Stats() EpisodeStats {
	st := a.state
	return EpisodeStats{
		Steps:            st.step,
		Reward:           st.lastReward,
		CleanupScore:     st.cleanup.Score(),
		TrajectoryLength: len(st.trajectory),
		ReflectionsCount: a.reflections.Len(),
		Done:             st.done,
		MaxSteps:         a.cfg.MaxSteps,
	}
}

// NeedsReset reports whether the next inbound message should start a new
// episode: nothing has been played yet or the last episode is done.
func (a *Agent) NeedsReset() bool {
	return !a.state.started || a.state.done
}

// History returns a copy of the conversation history.
func (a *Agent) History() []Message {
	out := make([]Message, len(a.state.history))
	copy(out, a.state.history)
	return out
}

// Trajectory returns a copy of the recorded transitions.
func (a *Agent) Trajectory() []Transition {
	out := make([]Transition, len(a.state.trajectory))
	copy(out, a.state.trajectory)
	return out
}

// Reflections returns the stored lessons, newest first.
func (a *Agent) Reflections() []string {
	return a.reflections.Lessons()
}

// LastAction returns the most recent action chosen by Act.
func (a *Agent) LastAction() string {
	return a.state.lastAction
}

// formatReward renders whole numbers with one decimal ("1.0") like the
// assessor reports them.
func formatReward(reward float64) string {
	s := strconv.FormatFloat(reward, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
