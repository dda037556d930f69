// Package llm provides language-model capabilities for the white agent.
package llm

import (
	"context"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/m-mizutani/goerr/v2"
)

// Provider names a model backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

const (
	DefaultOpenAIModel = "gpt-4o"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// DefaultModel returns the model used by provider when none is configured.
func DefaultModel(p Provider) string {
	if p == ProviderGemini {
		return DefaultGeminiModel
	}
	return DefaultOpenAIModel
}

// Config selects and configures a backend.
type Config struct {
	Provider          Provider
	OpenAIKey         string
	OpenAIBaseURL     string
	GeminiKey         string
	Timeout           time.Duration
	RequestsPerMinute int
}

// New builds the model capability for cfg. It returns a nil Model and no
// error when the selected provider has no API key; the agent then runs on
// its fallback policy.
func New(ctx context.Context, cfg Config) (agent.Model, error) {
	var model agent.Model

	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.OpenAIKey == "" {
			return nil, nil
		}
		model = NewOpenAI(cfg.OpenAIKey,
			WithBaseURL(cfg.OpenAIBaseURL),
			WithTimeout(cfg.Timeout),
		)
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			return nil, nil
		}
		g, err := NewGemini(ctx, cfg.GeminiKey, WithTimeout(cfg.Timeout))
		if err != nil {
			return nil, err
		}
		model = g
	default:
		return nil, goerr.New("unsupported llm provider", goerr.V("provider", cfg.Provider))
	}

	if cfg.RequestsPerMinute > 0 {
		model = NewRateLimited(model, cfg.RequestsPerMinute)
	}
	return model, nil
}

type options struct {
	baseURL string
	timeout time.Duration
}

// Option configures a backend client.
type Option func(*options)

// WithBaseURL points the OpenAI client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithTimeout bounds every completion call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
