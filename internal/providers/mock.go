package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const mockCompletionModel = "mock-llm-v1"

// MockProvider serves both gateways without network access. Embeddings are
// derived from a sha256 of the input, so equal texts always map to equal
// unit vectors.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Dimension() int { return m.dim }

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", m.dim)}
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, m.dim))
	}
	return vectors, info, nil
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if err := validateCompletion(req); err != nil {
		return Completion{}, err
	}
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	text := mockAnswer(req.Prompt)
	words := len(strings.Fields(req.Prompt))
	return Completion{
		Content:      text,
		Model:        mockCompletionModel,
		Provider:     "mock",
		Usage:        map[string]int{"prompt_tokens": words, "completion_tokens": len(strings.Fields(text)), "total_tokens": words + len(strings.Fields(text))},
		FinishReason: "stop",
	}, nil
}

func (m *MockProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamFragment, error) {
	if err := validateCompletion(req); err != nil {
		return nil, err
	}
	text := mockAnswer(req.Prompt)
	return runStream(ctx, ProviderInfo{Name: "mock", Model: mockCompletionModel}, func(emit func(string) error) error {
		for i, w := range strings.Fields(text) {
			if i > 0 {
				w = " " + w
			}
			if err := emit(w); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func mockAnswer(prompt string) string {
	if strings.Contains(prompt, "Context:\n") {
		return "Mock answer grounded in the supplied context."
	}
	return "Mock response."
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
