package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"edgarrag/internal/providers"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"
)

type recordingLLM struct {
	*providers.MockProvider
	prompts []string
}

func (r *recordingLLM) Complete(ctx context.Context, req providers.CompletionRequest) (providers.Completion, error) {
	r.prompts = append(r.prompts, req.Prompt)
	return r.MockProvider.Complete(ctx, req)
}

type fakeGateways struct {
	llm        *recordingLLM
	embedErr   error
	credential bool
	embedCalls int
}

func (f *fakeGateways) Completion(name, apiKey string) (providers.CompletionProvider, error) {
	if name == "missing" {
		return nil, fmt.Errorf("%w: MISSING_API_KEY is not set", util.ErrConfiguration)
	}
	return f.llm, nil
}

func (f *fakeGateways) Embedding(name, apiKey string) (providers.EmbeddingProvider, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return providers.NewMockProvider(8), nil
}

func (f *fakeGateways) HasEmbeddingCredential() bool { return f.credential }

type fakeIndex struct {
	vector.Index
	hits       []vector.SearchResult
	lastTopK   int
	lastFilter vector.Filter
}

func (f *fakeIndex) Search(ctx context.Context, q []float32, topK int, filter vector.Filter) ([]vector.SearchResult, error) {
	f.lastTopK = topK
	f.lastFilter = filter
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func hit(id string, n int, score float64) vector.SearchResult {
	return vector.SearchResult{
		Document: vector.Document{ID: id, Content: strings.Repeat("a", n), Metadata: map[string]any{"accession_number": id}},
		Score:    score,
	}
}

func newTestPipeline(hits ...vector.SearchResult) (*Pipeline, *fakeGateways, *fakeIndex) {
	gw := &fakeGateways{llm: &recordingLLM{MockProvider: providers.NewMockProvider(8)}, credential: true}
	idx := &fakeIndex{hits: hits}
	return NewPipeline(gw, idx), gw, idx
}

func TestQueryPacksContextUntilWindow(t *testing.T) {
	p, gw, idx := newTestPipeline(hit("a", 1500, 0.9), hit("b", 1500, 0.8), hit("c", 1500, 0.7), hit("d", 10, 0.6))
	out, err := p.Query(context.Background(), QueryRequest{Question: "What changed?", Filter: vector.Filter{FormType: "10-K"}})
	require.NoError(t, err)
	require.Equal(t, DefaultTopK, idx.lastTopK)
	require.Equal(t, "10-K", idx.lastFilter.FormType)
	// a+b = 3000 fits, c would reach 4500; d is never reached.
	require.Len(t, out.ContextChunksUsed, 2)
	require.Len(t, out.Sources, 2)
	require.Equal(t, "a", out.Sources[0].ID)
	require.Equal(t, "b", out.Sources[1].ID)
	require.Equal(t, "mock", out.Provider)
	require.Equal(t, "Mock answer grounded in the supplied context.", out.Answer)
	require.NotNil(t, out.TokensUsed())

	require.Len(t, gw.llm.prompts, 1)
	require.True(t, strings.HasPrefix(gw.llm.prompts[0], contextInstruction+"\n\nContext:\n"))
	require.True(t, strings.HasSuffix(gw.llm.prompts[0], "\n\nQuestion: What changed?\n\nAnswer:"))
}

func TestQueryHonoursTopKAndWindow(t *testing.T) {
	p, _, idx := newTestPipeline(hit("a", 10, 0.9), hit("b", 10, 0.8), hit("c", 10, 0.7))
	p.ContextWindow = 15
	out, err := p.Query(context.Background(), QueryRequest{Question: "q", TopK: 2})
	require.NoError(t, err)
	require.Equal(t, 2, idx.lastTopK)
	require.Equal(t, []string{strings.Repeat("a", 10)}, out.ContextChunksUsed)
}

func TestQueryWindowCountsCharactersNotBytes(t *testing.T) {
	accented := vector.SearchResult{
		Document: vector.Document{ID: "fr", Content: strings.Repeat("é", 60)},
		Score:    0.9,
	}
	p, _, _ := newTestPipeline(accented, hit("b", 50, 0.8))
	p.ContextWindow = 100
	out, err := p.Query(context.Background(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	// 60 characters (120 bytes) fit; the next 50 would reach 110.
	require.Equal(t, []string{strings.Repeat("é", 60)}, out.ContextChunksUsed)
	require.Equal(t, "fr", out.Sources[0].ID)
}

func TestQueryWithoutEmbeddingCredentialUsesNoContext(t *testing.T) {
	p, gw, _ := newTestPipeline(hit("a", 10, 0.9))
	gw.credential = false
	out, err := p.Query(context.Background(), QueryRequest{Question: "q", SystemPrompt: "Be brief."})
	require.NoError(t, err)
	require.Empty(t, out.ContextChunksUsed)
	require.Empty(t, out.Sources)
	require.Zero(t, gw.embedCalls)
	require.Equal(t, "Be brief.\n\nQuestion: q\n\nAnswer:", gw.llm.prompts[0])
	require.Equal(t, "Mock response.", out.Answer)
}

func TestQueryEmbeddingConfigErrorDegrades(t *testing.T) {
	p, gw, _ := newTestPipeline(hit("a", 10, 0.9))
	gw.embedErr = fmt.Errorf("%w: OPENAI_API_KEY is not set", util.ErrConfiguration)
	out, err := p.Query(context.Background(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	require.Empty(t, out.ContextChunksUsed)
	require.Equal(t, "Question: q\n\nAnswer:", gw.llm.prompts[0])
}

func TestQueryErrors(t *testing.T) {
	p, gw, _ := newTestPipeline()
	_, err := p.Query(context.Background(), QueryRequest{Question: "  "})
	require.ErrorIs(t, err, util.ErrValidation)

	_, err = p.Query(context.Background(), QueryRequest{Question: "q", Provider: "missing"})
	require.ErrorIs(t, err, util.ErrConfiguration)

	gw.embedErr = fmt.Errorf("upstream exploded")
	_, err = p.Query(context.Background(), QueryRequest{Question: "q"})
	require.Error(t, err)
	require.NotErrorIs(t, err, util.ErrConfiguration)
}

func TestBuildPromptTemplates(t *testing.T) {
	require.Equal(t, "SYS\n\nContext:\nCTX\n\nQuestion: Q\n\nAnswer:", BuildPrompt("Q", "SYS", "CTX"))
	require.Equal(t, contextInstruction+"\n\nContext:\nCTX\n\nQuestion: Q\n\nAnswer:", BuildPrompt("Q", "", "CTX"))
	require.Equal(t, "SYS\n\nQuestion: Q\n\nAnswer:", BuildPrompt("Q", "SYS", ""))
	require.Equal(t, "Question: Q\n\nAnswer:", BuildPrompt("Q", "", ""))
}

func TestStreamReturnsSourcesAndFragments(t *testing.T) {
	p, _, _ := newTestPipeline(hit("a", 10, 0.9))
	ret, ch, err := p.Stream(context.Background(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	require.Len(t, ret.Sources, 1)
	var b strings.Builder
	var last providers.StreamFragment
	for f := range ch {
		b.WriteString(f.Content)
		last = f
	}
	require.True(t, last.Done)
	require.NoError(t, last.Err)
	require.Contains(t, b.String(), "Mock answer")
}
