package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/domain"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/metrics"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRepo is an in-memory store.Repository.
type fakeRepo struct {
	mu        sync.Mutex
	contexts  map[string]*domain.ContextSession
	episodes  []*domain.EpisodeRecord
	deleted   []string
	cleanups  int
	upsertErr error
}

var _ store.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{contexts: make(map[string]*domain.ContextSession)}
}

func (f *fakeRepo) GetContext(_ context.Context, id string) (*domain.ContextSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.contexts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) UpsertContext(_ context.Context, s *domain.ContextSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cp := *s
	if existing, ok := f.contexts[s.ContextID]; ok && existing.EpisodeCount > cp.EpisodeCount {
		cp.EpisodeCount = existing.EpisodeCount
	}
	f.contexts[s.ContextID] = &cp
	return nil
}

func (f *fakeRepo) DeleteContext(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contexts, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRepo) SaveEpisode(_ context.Context, e *domain.EpisodeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes = append(f.episodes, e)
	if s, ok := f.contexts[e.ContextID]; ok {
		s.EpisodeCount++
	}
	return nil
}

func (f *fakeRepo) ListEpisodes(_ context.Context, id string, _ int) ([]*domain.EpisodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.EpisodeRecord
	for i := len(f.episodes) - 1; i >= 0; i-- {
		if f.episodes[i].ContextID == id {
			out = append(out, f.episodes[i])
		}
	}
	return out, nil
}

func (f *fakeRepo) GetExpiredContexts(context.Context, time.Duration) ([]*domain.ContextSession, error) {
	return nil, nil
}

func (f *fakeRepo) CleanupStale(context.Context, time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 0, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error                { return nil }

func newTestService(t *testing.T, model agent.Model) (*Service, *fakeRepo, *metrics.Metrics) {
	t.Helper()
	repo := newFakeRepo()
	m := metrics.New()
	svc := NewService(Options{
		Config:  agent.DefaultConfig(),
		Model:   model,
		Repo:    repo,
		Metrics: m,
	})
	t.Cleanup(func() { _ = svc.Close() })
	return svc, repo, m
}

func TestHandleMessageExecutorSemantics(t *testing.T) {
	t.Parallel()
	svc, repo, _ := newTestService(t, nil)
	ctx := context.Background()

	action, err := svc.HandleMessage(ctx, "ctx-1", "The lamp is off.")
	require.NoError(t, err)
	assert.Equal(t, "turn on lamp", action)

	snap, err := svc.Stats("ctx-1")
	require.NoError(t, err)
	assert.False(t, snap.NeedsReset)
	assert.Equal(t, "turn on lamp", snap.LastAction)

	stored, err := repo.GetContext(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "turn on lamp", stored.LastAction)

	// Mid-episode messages continue the episode.
	_, err = svc.Observe(ctx, "ctx-1", ObserveInput{Reward: 0})
	require.NoError(t, err)
	_, err = svc.HandleMessage(ctx, "ctx-1", "The lamp is on.")
	require.NoError(t, err)
	snap, err = svc.Stats("ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.Steps)

	// A finished episode is followed by a fresh one.
	snap, err = svc.Observe(ctx, "ctx-1", ObserveInput{Action: "turn on lamp", Reward: 1, Done: true})
	require.NoError(t, err)
	assert.True(t, snap.NeedsReset)
	assert.Len(t, snap.Reflections, 1)

	_, err = svc.HandleMessage(ctx, "ctx-1", "A new task begins.")
	require.NoError(t, err)
	snap, err = svc.Stats("ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Stats.Steps)
	assert.False(t, snap.Stats.Done)
	assert.Equal(t, 1, snap.Stats.ReflectionsCount)
}

func TestHandleMessageRequiresContextID(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil)

	_, err := svc.HandleMessage(context.Background(), "", "hello")
	assert.Error(t, err)
}

func TestContextsAreIsolated(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Reset(ctx, "a", agent.TextObservation("start a"))
	require.NoError(t, err)
	_, err = svc.Reset(ctx, "b", agent.StructObservation{Obs: "start b"})
	require.NoError(t, err)

	_, err = svc.Act(ctx, "a", "You see nothing.")
	require.NoError(t, err)
	_, err = svc.Observe(ctx, "a", ObserveInput{Done: true})
	require.NoError(t, err)

	a, err := svc.Stats("a")
	require.NoError(t, err)
	b, err := svc.Stats("b")
	require.NoError(t, err)
	assert.Len(t, a.Reflections, 1)
	assert.Empty(t, b.Reflections)
	assert.Equal(t, 2, svc.ActiveContexts())
}

func TestObserveUnknownContext(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil)

	_, err := svc.Observe(context.Background(), "missing", ObserveInput{})
	assert.ErrorIs(t, err, ErrUnknownContext)
	_, err = svc.Stats("missing")
	assert.ErrorIs(t, err, ErrUnknownContext)
}

func TestEpisodeEndPersistsAndRecordsMetrics(t *testing.T) {
	t.Parallel()
	model := agent.ModelFunc(func(context.Context, agent.CompletionRequest) (string, error) {
		return "open fridge 1", nil
	})
	svc, repo, m := newTestService(t, model)
	ctx := context.Background()

	_, err := svc.Reset(ctx, "ctx-1", agent.TextObservation("kitchen"))
	require.NoError(t, err)
	action, err := svc.Act(ctx, "ctx-1", "kitchen")
	require.NoError(t, err)
	assert.Equal(t, "open fridge 1", action)

	_, err = svc.Observe(ctx, "ctx-1", ObserveInput{
		Reward: 1,
		Done:   true,
		Info:   agent.Info{"feedback": "nice"},
	})
	require.NoError(t, err)

	episodes, err := svc.Episodes(ctx, "ctx-1", 10)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, 1, episodes[0].Steps)
	assert.Equal(t, 1.0, episodes[0].Reward)
	assert.Equal(t, 0.0, episodes[0].CleanupScore)
	assert.Equal(t, "nice", episodes[0].Feedback)
	assert.Contains(t, episodes[0].Reflection, "Always close containers/appliances after use.")

	stored, err := repo.GetContext(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EpisodeCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("model")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EpisodesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveContexts))
}

func TestModelFailureCounted(t *testing.T) {
	t.Parallel()
	model := agent.ModelFunc(func(context.Context, agent.CompletionRequest) (string, error) {
		return "", errors.New("timeout")
	})
	svc, _, m := newTestService(t, model)

	action, err := svc.HandleMessage(context.Background(), "ctx-1", "Check your inventory.")
	require.NoError(t, err)
	assert.Equal(t, "inventory", action)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelFailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("fallback")))
}

func TestPersistFailureDoesNotSurface(t *testing.T) {
	t.Parallel()
	svc, repo, _ := newTestService(t, nil)
	repo.upsertErr = errors.New("database is locked")

	action, err := svc.HandleMessage(context.Background(), "ctx-1", "look around")
	require.NoError(t, err)
	assert.Equal(t, "look", action)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	svc, repo, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.HandleMessage(ctx, "ctx-1", "hello")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, "ctx-1"))
	assert.Equal(t, 0, svc.ActiveContexts())
	assert.Contains(t, repo.deleted, "ctx-1")

	_, err = svc.Stats("ctx-1")
	assert.ErrorIs(t, err, ErrUnknownContext)
	assert.ErrorIs(t, svc.Cancel(ctx, "ctx-1"), ErrUnknownContext)

	// A cancelled context starts over with no reflections.
	_, err = svc.HandleMessage(ctx, "ctx-1", "hello again")
	require.NoError(t, err)
	snap, err := svc.Stats("ctx-1")
	require.NoError(t, err)
	assert.Empty(t, snap.Reflections)
}

func TestEpisodesWithoutRepo(t *testing.T) {
	t.Parallel()
	svc := NewService(Options{Config: agent.DefaultConfig()})
	defer func() { _ = svc.Close() }()

	episodes, err := svc.Episodes(context.Background(), "ctx", 5)
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestConcurrentCallsOnOneContextAreSerialized(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Reset(ctx, "ctx-1", agent.TextObservation("start"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Act(ctx, "ctx-1", "You see a shelf.")
			_, _ = svc.Observe(ctx, "ctx-1", ObserveInput{})
		}()
	}
	wg.Wait()

	snap, err := svc.Stats("ctx-1")
	require.NoError(t, err)
	assert.Equal(t, n, snap.Stats.Steps)
	assert.Equal(t, n, snap.Stats.TrajectoryLength)
}
