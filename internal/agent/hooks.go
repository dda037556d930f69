package agent

// ActionSource tells where an action returned by Act came from.
type ActionSource string

const (
	// SourceModel is the parsed first model reply.
	SourceModel ActionSource = "model"
	// SourceRetry is the parsed reply to the anti-repetition retry.
	SourceRetry ActionSource = "retry"
	// SourceFallback is the keyword heuristic.
	SourceFallback ActionSource = "fallback"
)

// ActEvent describes one decision made by Act.
type ActEvent struct {
	Observation string
	Action      string
	Raw         string
	Source      ActionSource
	Repeated    bool
	Cycle       bool
	Failure     error
}

// EpisodeEvent is emitted once when Observe receives done.
type EpisodeEvent struct {
	Stats      EpisodeStats
	Reflection string
	Feedback   string
	Trajectory []Transition
}

// Hooks are optional lifecycle callbacks. Nil fields are skipped.
type Hooks struct {
	OnAct        func(ActEvent)
	OnEpisodeEnd func(EpisodeEvent)
}

func (h Hooks) act(ev ActEvent) {
	if h.OnAct != nil {
		h.OnAct(ev)
	}
}

func (h Hooks) episodeEnd(ev EpisodeEvent) {
	if h.OnEpisodeEnd != nil {
		h.OnEpisodeEnd(ev)
	}
}
