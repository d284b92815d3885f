package providers

import "strings"

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	defaultGroqModel = "llama-3.1-8b-instant"
)

// NewGroqProvider returns a completion-only provider for Groq's
// OpenAI-compatible API.
func NewGroqProvider(apiKey, model string) *OpenAIProvider {
	if strings.TrimSpace(model) == "" {
		model = defaultGroqModel
	}
	p := NewOpenAIProvider(apiKey, model, "").WithBaseURL(groqBaseURL)
	p.name = "groq"
	p.embedModel = ""
	p.dim = 0
	return p
}
