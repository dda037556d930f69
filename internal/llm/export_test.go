package llm

import "time"

type APIClient = apiClient
type GeminiAPI = geminiAPI

var (
	ToGeminiContents  = toGeminiContents
	OpenAITemperature = openAITemperature
)

// NewOpenAIWithAPIClient creates an OpenAI model around a fake client.
func NewOpenAIWithAPIClient(client apiClient, timeout time.Duration) *OpenAI {
	return &OpenAI{client: client, opts: options{timeout: timeout}}
}

// NewGeminiWithAPI creates a Gemini model around a fake client.
func NewGeminiWithAPI(api geminiAPI, timeout time.Duration) *Gemini {
	return &Gemini{api: api, opts: options{timeout: timeout}}
}
