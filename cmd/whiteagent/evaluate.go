package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/evaluate"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/metrics"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/spf13/cobra"
)

var (
	evalEpisodes int
	evalRuns     int
	evalMaxSteps int
	evalOutput   string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Play episodes against the built-in mock assessor",
	Long: `Run the agent offline against a scripted assessor and write per-episode
scores to a CSV file. Reflections carry over between the episodes of one run.
No database or server is used; the language model comes from the environment
and the fallback policy is used when no API key is set.`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().IntVar(&evalEpisodes, "episodes", 2, "episodes per run")
	evaluateCmd.Flags().IntVar(&evalRuns, "runs", 1, "independent runs played concurrently")
	evaluateCmd.Flags().IntVar(&evalMaxSteps, "max-steps", evaluate.DefaultMaxSteps, "step cap per episode")
	evaluateCmd.Flags().StringVarP(&evalOutput, "output", "o", "evaluation_scores.csv", "CSV output path")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	if evalEpisodes <= 0 || evalRuns <= 0 || evalMaxSteps <= 0 {
		return fmt.Errorf("--episodes, --runs and --max-steps must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agentCfg, err := agentConfig(cfg)
	if err != nil {
		return err
	}
	model, err := languageModel(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc := session.NewService(session.Options{
		Config:  agentCfg,
		Model:   model,
		Metrics: metrics.New(),
		Logger:  logger,
	})
	defer func() { _ = svc.Close() }()

	runner := evaluate.NewRunner(svc, evaluate.NewMockAssessor(evaluate.DefaultTasks), evaluate.Options{
		Episodes: evalEpisodes,
		Runs:     evalRuns,
		MaxSteps: evalMaxSteps,
		Logger:   logger,
	})
	results, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("evaluation: %w", err)
	}

	if err := evaluate.WriteCSVFile(evalOutput, results); err != nil {
		return err
	}

	sum := evaluate.Summarize(results)
	slog.Info("Evaluation complete",
		"output", evalOutput,
		"episodes", sum.Episodes,
		"success_rate", sum.SuccessRate,
		"mean_reward", sum.MeanReward,
		"mean_steps", sum.MeanSteps,
		"mean_cleanup", sum.MeanCleanup,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d episodes to %s (success rate %.2f)\n", sum.Episodes, evalOutput, sum.SuccessRate)
	return nil
}
