package providers

import (
	"context"
	"fmt"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

type EmbedRequest struct {
	Inputs []string `json:"inputs"`
}

type CompletionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature"`
	// MaxTokens <= 0 leaves the provider default in place.
	MaxTokens int `json:"max_tokens,omitempty"`
}

type Completion struct {
	Content      string         `json:"content"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Usage        map[string]int `json:"usage,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// StreamFragment is one element of a completion stream. The last fragment
// always has Done set; Err is non-nil when the stream ended on a failure.
type StreamFragment struct {
	Content  string `json:"content"`
	Done     bool   `json:"done"`
	Err      error  `json:"-"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
	Dimension() int
}

type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamFragment, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p EmbeddingProvider, text string) ([]float32, error) {
	vecs, _, err := p.Embed(ctx, EmbedRequest{Inputs: []string{text}})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

func validateCompletion(req CompletionRequest) error {
	if req.Temperature < 0 || req.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0,2]", req.Temperature)
	}
	return nil
}

// runStream drives produce on its own goroutine and adapts its output to the
// fragment channel contract.
func runStream(ctx context.Context, info ProviderInfo, produce func(emit func(string) error) error) <-chan StreamFragment {
	out := make(chan StreamFragment, 16)
	go func() {
		defer close(out)
		send := func(f StreamFragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}
		err := produce(func(s string) error {
			if s == "" {
				return nil
			}
			if !send(StreamFragment{Content: s, Model: info.Model, Provider: info.Name}) {
				return ctx.Err()
			}
			return nil
		})
		final := StreamFragment{Done: true, Model: info.Model, Provider: info.Name}
		if err != nil {
			final.Err = err
			final.Content = "Error: " + err.Error()
		}
		// the final fragment is delivered even after cancellation when the buffer has room
		select {
		case out <- final:
		default:
			send(final)
		}
	}()
	return out
}
