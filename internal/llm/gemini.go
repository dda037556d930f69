package llm

import (
	"context"
	"strings"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// geminiAPI is the subset of the GenAI SDK used here.
type geminiAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type realGeminiAPI struct {
	client *genai.Client
}

func (r *realGeminiAPI) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return r.client.Models.GenerateContent(ctx, model, contents, config)
}

// Gemini implements agent.Model on the Gemini API.
type Gemini struct {
	api  geminiAPI
	opts options
}

// NewGemini creates a Gemini-backed model.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	return &Gemini{
		api:  &realGeminiAPI{client: client},
		opts: buildOptions(opts),
	}, nil
}

// Complete sends the transcript and returns the text of the first candidate.
// System entries become the system instruction.
func (g *Gemini) Complete(ctx context.Context, req agent.CompletionRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, g.opts.timeout)
	defer cancel()

	system, contents := toGeminiContents(req.Messages)
	temperature := req.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Role:  "system",
			Parts: []*genai.Part{{Text: system}},
		}
	}

	resp, err := g.api.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", req.Model))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("gemini returned no candidates", goerr.V("model", req.Model))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func toGeminiContents(messages []agent.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			system = append(system, m.Content)
		case agent.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}
