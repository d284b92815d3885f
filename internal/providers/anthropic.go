package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

const (
	defaultAnthropicModel     = "claude-3-haiku-20240307"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicProvider is a completion-only provider backed by langchaingo.
type AnthropicProvider struct {
	model string
	llm   llms.Model
}

func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("init anthropic client: %w", err)
	}
	return &AnthropicProvider{model: model, llm: llm}, nil
}

func (a *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if err := validateCompletion(req); err != nil {
		return Completion{}, err
	}
	resp, err := a.llm.GenerateContent(ctx, a.messages(req), a.options(req)...)
	if err != nil {
		return Completion{}, newProviderError("anthropic", 0, fmt.Errorf("anthropic generate failed: %w", err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, newProviderError("anthropic", 0, fmt.Errorf("anthropic returned empty choices"))
	}
	choice := resp.Choices[0]
	return Completion{
		Content:      choice.Content,
		Model:        a.model,
		Provider:     "anthropic",
		Usage:        anthropicUsage(choice.GenerationInfo),
		FinishReason: choice.StopReason,
	}, nil
}

func (a *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamFragment, error) {
	if err := validateCompletion(req); err != nil {
		return nil, err
	}
	info := ProviderInfo{Name: "anthropic", Model: a.model}
	return runStream(ctx, info, func(emit func(string) error) error {
		opts := append(a.options(req), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return emit(string(chunk))
		}))
		if _, err := a.llm.GenerateContent(ctx, a.messages(req), opts...); err != nil {
			return newProviderError("anthropic", 0, fmt.Errorf("anthropic stream failed: %w", err))
		}
		return nil
	}), nil
}

func (a *AnthropicProvider) messages(req CompletionRequest) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))
}

func (a *AnthropicProvider) options(req CompletionRequest) []llms.CallOption {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return []llms.CallOption{
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(maxTokens),
	}
}

func anthropicUsage(info map[string]any) map[string]int {
	in, okIn := asInt(info["InputTokens"])
	out, okOut := asInt(info["OutputTokens"])
	if !okIn && !okOut {
		return nil
	}
	return map[string]int{"input_tokens": in, "output_tokens": out}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
