package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/domain"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/metrics"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/store"
)

// ErrUnknownContext is returned for operations that need a live context.
var ErrUnknownContext = errors.New("unknown context")

const (
	persistTimeout = 5 * time.Second
	staleRowAge    = 7 * 24 * time.Hour
)

// Options wires a Service. Only Config is required.
type Options struct {
	Config  agent.Config
	Model   agent.Model
	Repo    store.Repository
	Metrics *metrics.Metrics
	ConvLog ConversationLogger
	Logger  *slog.Logger
	// OnEvict is called for every context the sweeper evicts.
	OnEvict func(contextID string)
}

// Service drives one agent per context on behalf of the wire surfaces.
type Service struct {
	mgr     *Manager
	cfg     agent.Config
	model   agent.Model
	repo    store.Repository
	metrics *metrics.Metrics
	convLog ConversationLogger
	logger  *slog.Logger
	onEvict func(contextID string)
}

// Snapshot is the externally visible state of one context.
type Snapshot struct {
	ContextID   string             `json:"context_id"`
	Stats       agent.EpisodeStats `json:"stats"`
	Reflections []string           `json:"reflections"`
	LastAction  string             `json:"last_action,omitempty"`
	NeedsReset  bool               `json:"needs_reset"`
}

// ObserveInput is the outcome of an action reported by the environment.
type ObserveInput struct {
	Action string     `json:"action"`
	Reward float64    `json:"reward"`
	Done   bool       `json:"done"`
	Info   agent.Info `json:"info,omitempty"`
}

// NewService creates a service.
func NewService(opts Options) *Service {
	s := &Service{
		cfg:     opts.Config,
		model:   opts.Model,
		repo:    opts.Repo,
		metrics: opts.Metrics,
		convLog: opts.ConvLog,
		logger:  opts.Logger,
		onEvict: opts.OnEvict,
	}
	if s.convLog == nil {
		s.convLog = noopConversationLogger{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.onEvict == nil {
		s.onEvict = func(string) {}
	}
	s.mgr = NewManager(s.newAgent)
	return s
}

func (s *Service) newAgent(contextID string) *agent.Agent {
	opts := []agent.Option{
		agent.WithLogger(s.logger.With("context_id", contextID)),
		agent.WithHooks(agent.Hooks{
			OnAct: func(ev agent.ActEvent) {
				s.onAct(contextID, ev)
			},
			OnEpisodeEnd: func(ev agent.EpisodeEvent) {
				s.onEpisodeEnd(contextID, ev)
			},
		}),
	}
	if s.model != nil {
		opts = append(opts, agent.WithModel(s.model))
	}
	return agent.New(s.cfg, opts...)
}

func (s *Service) onAct(contextID string, ev agent.ActEvent) {
	modelFailed := ev.Failure != nil && !errors.Is(ev.Failure, agent.ErrModelUnavailable)
	s.metrics.ObserveAction(string(ev.Source), modelFailed)

	meta := map[string]any{"source": string(ev.Source)}
	if ev.Repeated {
		meta["repeated"] = true
	}
	if ev.Cycle {
		meta["cycle"] = true
	}
	if ev.Failure != nil {
		meta["failure"] = ev.Failure.Error()
	}
	s.convLog.Log(ConversationLogEvent{
		ContextID:  contextID,
		Direction:  "outbound",
		EventType:  EventAct,
		Content:    ev.Action,
		ContentRaw: ev.Raw,
		Metadata:   meta,
	})
}

func (s *Service) onEpisodeEnd(contextID string, ev agent.EpisodeEvent) {
	s.metrics.ObserveEpisode(ev.Stats.Reward, ev.Stats.CleanupScore)
	s.convLog.Log(ConversationLogEvent{
		ContextID: contextID,
		Direction: "outbound",
		EventType: EventEpisodeEnd,
		Content:   ev.Reflection,
		Metadata: map[string]any{
			"steps":         ev.Stats.Steps,
			"reward":        ev.Stats.Reward,
			"cleanup_score": ev.Stats.CleanupScore,
		},
	})

	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.SaveEpisode(ctx, &domain.EpisodeRecord{
		ContextID:    contextID,
		Steps:        ev.Stats.Steps,
		Reward:       ev.Stats.Reward,
		CleanupScore: ev.Stats.CleanupScore,
		Reflection:   ev.Reflection,
		Feedback:     ev.Feedback,
	}); err != nil {
		s.logger.Warn("failed to persist episode", "context_id", contextID, "error", err)
	}
}

// HandleMessage is the executor entry point: it starts a new episode when
// the context has none or its last one is done, then acts on text.
func (s *Service) HandleMessage(ctx context.Context, contextID, text string) (string, error) {
	if contextID == "" {
		return "", fmt.Errorf("context id is required")
	}
	e := s.entry(contextID)
	s.logInbound(contextID, EventAct, text, nil)

	var action string
	var snap Snapshot
	e.Do(func(a *agent.Agent) {
		if a.NeedsReset() {
			a.Reset(agent.TextObservation(text))
			s.logger.Debug("new episode", "context_id", contextID)
		}
		action = a.Act(ctx, text)
		snap = snapshot(contextID, a)
	})

	s.persist(ctx, snap)
	return action, nil
}

// Reset starts a new episode on contextID and returns the observation text.
func (s *Service) Reset(ctx context.Context, contextID string, obs agent.Observation) (string, error) {
	if contextID == "" {
		return "", fmt.Errorf("context id is required")
	}
	e := s.entry(contextID)

	var text string
	var snap Snapshot
	e.Do(func(a *agent.Agent) {
		text = a.Reset(obs)
		snap = snapshot(contextID, a)
	})
	s.logInbound(contextID, EventReset, text, nil)

	s.persist(ctx, snap)
	return text, nil
}

// Act chooses the next action on contextID. A context without an episode is
// created and self-repairs.
func (s *Service) Act(ctx context.Context, contextID, observation string) (string, error) {
	if contextID == "" {
		return "", fmt.Errorf("context id is required")
	}
	e := s.entry(contextID)
	s.logInbound(contextID, EventAct, observation, nil)

	var action string
	var snap Snapshot
	e.Do(func(a *agent.Agent) {
		action = a.Act(ctx, observation)
		snap = snapshot(contextID, a)
	})

	s.persist(ctx, snap)
	return action, nil
}

// Observe reports the outcome of an action. An empty Action means the last
// action chosen by Act.
func (s *Service) Observe(ctx context.Context, contextID string, in ObserveInput) (Snapshot, error) {
	e, ok := s.mgr.Get(contextID)
	if !ok {
		return Snapshot{}, ErrUnknownContext
	}

	var snap Snapshot
	e.Do(func(a *agent.Agent) {
		action := in.Action
		if action == "" {
			action = a.LastAction()
		}
		s.logInbound(contextID, EventObserve, action, map[string]any{
			"reward": in.Reward,
			"done":   in.Done,
		})
		a.Observe(action, in.Reward, in.Done, in.Info)
		snap = snapshot(contextID, a)
	})

	s.persist(ctx, snap)
	return snap, nil
}

// Stats returns the state of a live context.
func (s *Service) Stats(contextID string) (Snapshot, error) {
	e, ok := s.mgr.Get(contextID)
	if !ok {
		return Snapshot{}, ErrUnknownContext
	}
	var snap Snapshot
	e.Do(func(a *agent.Agent) {
		snap = snapshot(contextID, a)
	})
	return snap, nil
}

// Cancel discards the agent of contextID and its stored rows.
// ErrUnknownContext is returned when no agent was live.
func (s *Service) Cancel(ctx context.Context, contextID string) error {
	existed := s.mgr.Evict(contextID)
	s.metrics.SetActiveContexts(s.mgr.Len())
	s.logInbound(contextID, EventCancel, "", nil)

	if s.repo != nil {
		if err := s.repo.DeleteContext(ctx, contextID); err != nil {
			s.logger.Warn("failed to delete context", "context_id", contextID, "error", err)
		}
	}
	if !existed {
		return ErrUnknownContext
	}
	s.logger.Info("Context cancelled", "context_id", contextID)
	return nil
}

// Episodes lists stored episodes of contextID, newest first.
func (s *Service) Episodes(ctx context.Context, contextID string, limit int) ([]*domain.EpisodeRecord, error) {
	if s.repo == nil {
		return []*domain.EpisodeRecord{}, nil
	}
	episodes, err := s.repo.ListEpisodes(ctx, contextID, limit)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	if episodes == nil {
		episodes = []*domain.EpisodeRecord{}
	}
	return episodes, nil
}

// ActiveContexts returns the number of live contexts.
func (s *Service) ActiveContexts() int {
	return s.mgr.Len()
}

// Close flushes the conversation log.
func (s *Service) Close() error {
	return s.convLog.Close()
}

func (s *Service) entry(contextID string) *Entry {
	e, created := s.mgr.GetOrCreate(contextID)
	if created {
		s.metrics.SetActiveContexts(s.mgr.Len())
	}
	return e
}

func (s *Service) persist(ctx context.Context, snap Snapshot) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.repo.UpsertContext(ctx, &domain.ContextSession{
		ContextID:  snap.ContextID,
		StepCount:  snap.Stats.Steps,
		LastAction: snap.LastAction,
		LastSeenAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to persist context", "context_id", snap.ContextID, "error", err)
	}
}

func (s *Service) logInbound(contextID, eventType, content string, meta map[string]any) {
	s.convLog.Log(ConversationLogEvent{
		ContextID:  contextID,
		Direction:  "inbound",
		EventType:  eventType,
		ContentRaw: content,
		Metadata:   meta,
	})
}

func snapshot(contextID string, a *agent.Agent) Snapshot {
	return Snapshot{
		ContextID:   contextID,
		Stats:       a.Stats(),
		Reflections: a.Reflections(),
		LastAction:  a.LastAction(),
		NeedsReset:  a.NeedsReset(),
	}
}
