package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZaidMadanat/alfworld-whiteagent/assets"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/config"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/llm"
)

// agentConfig builds the agent configuration, loading the system prompt.
func agentConfig(cfg *config.Config) (agent.Config, error) {
	prompt, err := assets.LoadSystemPrompt(cfg.Agent.SystemPromptPath)
	if err != nil {
		return agent.Config{}, err
	}
	modelName := cfg.LLM.Model
	if modelName == "" {
		modelName = llm.DefaultModel(llm.Provider(cfg.LLM.Provider))
	}
	return agent.Config{
		SystemPrompt:   prompt,
		ModelName:      modelName,
		MaxReflections: cfg.Agent.MaxReflections,
		TrackCleanup:   cfg.Agent.TrackCleanup,
		MaxSteps:       cfg.Agent.MaxSteps,
	}, nil
}

// languageModel builds the configured model, or nil when no key is set.
func languageModel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Model, error) {
	model, err := llm.New(ctx, llm.Config{
		Provider:          llm.Provider(cfg.LLM.Provider),
		OpenAIKey:         cfg.LLM.OpenAIKey,
		OpenAIBaseURL:     cfg.LLM.OpenAIBaseURL,
		GeminiKey:         cfg.LLM.GeminiKey,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize language model: %w", err)
	}
	if model == nil {
		logger.Warn("No API key for language model, using fallback policy only", "provider", cfg.LLM.Provider)
	} else {
		logger.Info("Language model configured", "provider", cfg.LLM.Provider)
	}
	return model, nil
}
