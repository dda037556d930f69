package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxSteps bounds an evaluation episode.
const DefaultMaxSteps = 10

// Driver is the agent surface the runner plays through. *session.Service
// implements it.
type Driver interface {
	Reset(ctx context.Context, contextID string, obs agent.Observation) (string, error)
	Act(ctx context.Context, contextID, observation string) (string, error)
	Observe(ctx context.Context, contextID string, in session.ObserveInput) (session.Snapshot, error)
}

var _ Driver = (*session.Service)(nil)

// Result is the score of one episode.
type Result struct {
	Episode      int
	Goal         string
	Reward       float64
	Steps        int
	CleanupScore float64
	Reflection   string
}

// Options configures an evaluation.
type Options struct {
	Episodes int
	// Runs are independent contexts played concurrently, each for Episodes
	// episodes. Reflections carry over between episodes of one run only.
	Runs          int
	MaxSteps      int
	ContextPrefix string
	Logger        *slog.Logger
}

// Runner plays episodes against an assessor.
type Runner struct {
	driver   Driver
	assessor *MockAssessor
	opts     Options
	logger   *slog.Logger
}

// NewRunner creates a runner. Zero options take defaults: one run of two
// episodes, DefaultMaxSteps steps each.
func NewRunner(driver Driver, assessor *MockAssessor, opts Options) *Runner {
	if opts.Episodes <= 0 {
		opts.Episodes = 2
	}
	if opts.Runs <= 0 {
		opts.Runs = 1
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.ContextPrefix == "" {
		opts.ContextPrefix = "evaluation"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if assessor == nil {
		assessor = NewMockAssessor(nil)
	}
	return &Runner{driver: driver, assessor: assessor, opts: opts, logger: logger}
}

// Run plays every run and returns results ordered by episode number.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	var (
		mu      sync.Mutex
		results = make([]Result, 0, r.opts.Runs*r.opts.Episodes)
	)

	g, ctx := errgroup.WithContext(ctx)
	for run := 0; run < r.opts.Runs; run++ {
		g.Go(func() error {
			contextID := r.opts.ContextPrefix
			if r.opts.Runs > 1 {
				contextID = fmt.Sprintf("%s-%d", r.opts.ContextPrefix, run)
			}
			runResults, err := r.runContext(ctx, contextID, run*r.opts.Episodes)
			if err != nil {
				return fmt.Errorf("run %d: %w", run, err)
			}
			mu.Lock()
			results = append(results, runResults...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Episode < results[j].Episode })
	return results, nil
}

func (r *Runner) runContext(ctx context.Context, contextID string, firstEpisode int) ([]Result, error) {
	results := make([]Result, 0, r.opts.Episodes)
	for i := 0; i < r.opts.Episodes; i++ {
		res, err := r.playEpisode(ctx, contextID, firstEpisode+i, r.assessor.Task(i))
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) playEpisode(ctx context.Context, contextID string, episode int, task Task) (Result, error) {
	logger := r.logger.With("context_id", contextID, "episode", episode, "goal", task.Goal)
	logger.Info("Episode started")

	obs, err := r.driver.Reset(ctx, contextID, agent.TextObservation(task.InitialObservation()))
	if err != nil {
		return Result{}, fmt.Errorf("reset episode %d: %w", episode, err)
	}

	res := Result{Episode: episode, Goal: task.Goal}
	var snap session.Snapshot
	for done := false; !done && res.Steps < r.opts.MaxSteps; {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		action, err := r.driver.Act(ctx, contextID, obs)
		if err != nil {
			return Result{}, fmt.Errorf("act in episode %d: %w", episode, err)
		}
		logger.Debug("Step", "step", res.Steps, "action", action)

		next, reward, finished := r.assessor.Assess(action, task.Goal)
		if res.Steps == r.opts.MaxSteps-1 {
			finished = true
		}

		snap, err = r.driver.Observe(ctx, contextID, session.ObserveInput{
			Action: action,
			Reward: reward,
			Done:   finished,
		})
		if err != nil {
			return Result{}, fmt.Errorf("observe in episode %d: %w", episode, err)
		}

		obs = next
		res.Reward += reward
		res.Steps++
		done = finished
	}

	res.CleanupScore = snap.Stats.CleanupScore
	if len(snap.Reflections) > 0 {
		res.Reflection = snap.Reflections[0]
	}
	logger.Info("Episode finished", "reward", res.Reward, "steps", res.Steps, "cleanup_score", res.CleanupScore)
	return res, nil
}

// Summary aggregates results.
type Summary struct {
	Episodes    int
	SuccessRate float64
	MeanReward  float64
	MeanSteps   float64
	MeanCleanup float64
}

// Summarize aggregates results. An episode with positive reward is a success.
func Summarize(results []Result) Summary {
	s := Summary{Episodes: len(results)}
	if len(results) == 0 {
		return s
	}
	var successes int
	for _, r := range results {
		if r.Reward > 0 {
			successes++
		}
		s.MeanReward += r.Reward
		s.MeanSteps += float64(r.Steps)
		s.MeanCleanup += r.CleanupScore
	}
	n := float64(len(results))
	s.SuccessRate = float64(successes) / n
	s.MeanReward /= n
	s.MeanSteps /= n
	s.MeanCleanup /= n
	return s
}
