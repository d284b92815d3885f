package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"edgarrag/internal/config"
	"edgarrag/internal/util"
)

func TestManagerMissingKeyIsConfigurationError(t *testing.T) {
	m := NewManager(config.Config{LLMProvider: "anthropic", EmbedProvider: "openai", EmbedDim: 1536})
	_, err := m.Completion("", "")
	require.ErrorIs(t, err, util.ErrConfiguration)
	_, err = m.Embedding("", "")
	require.ErrorIs(t, err, util.ErrConfiguration)
	require.False(t, m.HasEmbeddingCredential())
}

func TestManagerCachesConfiguredInstances(t *testing.T) {
	m := NewManager(config.Config{LLMProvider: "groq", GroqKey: "gk", EmbedProvider: "openai", OpenAIKey: "ok", EmbedDim: 1536})
	a, err := m.Completion("", "")
	require.NoError(t, err)
	b, err := m.Completion("groq", "")
	require.NoError(t, err)
	require.Same(t, a, b)

	fresh, err := m.Completion("groq", "caller-key")
	require.NoError(t, err)
	require.NotSame(t, a, fresh)
	require.Equal(t, "caller-key", fresh.(*OpenAIProvider).apiKey)

	emb, err := m.Embedding("", "")
	require.NoError(t, err)
	require.Equal(t, 1536, emb.Dimension())
	require.True(t, m.HasEmbeddingCredential())
}

func TestManagerModelOverrideAndUnsupported(t *testing.T) {
	m := NewManager(config.Config{LLMProvider: "mock", EmbedProvider: "mock", OpenAIKey: "k", EmbedDim: 8})
	p, err := m.Completion("openai:gpt-4o", "")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", p.(*OpenAIProvider).chatModel)

	_, err = m.Embedding("groq", "x")
	require.ErrorIs(t, err, util.ErrConfiguration)
	_, err = m.Completion("nope", "")
	require.ErrorIs(t, err, util.ErrConfiguration)
}

func TestMockProviderDeterministicUnitVectors(t *testing.T) {
	m := NewManager(config.Config{LLMProvider: "mock", EmbedProvider: "mock", EmbedDim: 32})
	emb, err := m.Embedding("", "")
	require.NoError(t, err)
	vecs, info, err := emb.Embed(context.Background(), EmbedRequest{Inputs: []string{"revenue", "revenue", "risk"}})
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.Equal(t, vecs[0], vecs[1])
	require.NotEqual(t, vecs[0], vecs[2])
	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, norm, 1e-4)

	llm, err := m.Completion("", "")
	require.NoError(t, err)
	ch, err := llm.Stream(context.Background(), CompletionRequest{Prompt: "Question: q\n\nAnswer:"})
	require.NoError(t, err)
	var text string
	for f := range ch {
		text += f.Content
	}
	require.Equal(t, "Mock response.", text)
}
