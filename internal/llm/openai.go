package llm

import (
	"context"
	"math"
	"net/http"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

// apiClient is the subset of the OpenAI SDK used here.
type apiClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI implements agent.Model on the chat completions API.
type OpenAI struct {
	client apiClient
	opts   options
}

// NewOpenAI creates an OpenAI-backed model.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := buildOptions(opts)

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: o.timeout}
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		opts:   o,
	}
}

// Complete sends the transcript and returns the first choice's content.
func (c *OpenAI) Complete(ctx context.Context, req agent.CompletionRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openAITemperature(req.Temperature),
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to create chat completion", goerr.V("model", req.Model))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("chat completion returned no choices", goerr.V("model", req.Model))
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case agent.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case agent.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// openAITemperature maps 0 to the smallest positive float; the SDK omits a
// zero temperature and the API would apply its default of 1.
func openAITemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
