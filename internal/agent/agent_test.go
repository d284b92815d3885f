package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"edgarrag/internal/edgar"
	"edgarrag/internal/ingest"
	"edgarrag/internal/models"
	"edgarrag/internal/providers"
	"edgarrag/internal/rag"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"
)

type fakeSearch struct {
	hits []edgar.SearchHit
	last edgar.SearchQuery
}

func (f *fakeSearch) SearchFilings(ctx context.Context, q edgar.SearchQuery) ([]edgar.SearchHit, error) {
	f.last = q
	return f.hits, nil
}

type fakeIngest struct {
	order []string
	fail  map[string]bool
}

func (f *fakeIngest) IngestFiling(ctx context.Context, req ingest.Request) (models.Filing, error) {
	f.order = append(f.order, req.AccessionNumber)
	if f.fail[req.AccessionNumber] {
		return models.Filing{}, errors.New("download failed")
	}
	return models.Filing{AccessionNumber: req.AccessionNumber, FormType: req.FormType, DocumentID: "doc-" + req.AccessionNumber, Status: models.FilingIndexed}, nil
}

type fakeAnswer struct{ last rag.QueryRequest }

func (f *fakeAnswer) Query(ctx context.Context, req rag.QueryRequest) (rag.Answer, error) {
	f.last = req
	return rag.Answer{
		Answer:  "answer",
		Sources: []rag.Source{{ID: "c0", Content: "As disclosed in 0000320193-23-000106, margins fell."}},
	}, nil
}

type fakeCompare struct{ calls []CompareRequest }

func (f *fakeCompare) Compare(ctx context.Context, req CompareRequest) (Comparison, error) {
	f.calls = append(f.calls, req)
	return Comparison{Answer: "diff"}, nil
}

func TestResearchRunFullFlow(t *testing.T) {
	search := &fakeSearch{hits: []edgar.SearchHit{
		{CIK: "1", AccessionNumber: "0000000001-24-000001", FormType: "10-K"},
		{CIK: "1", AccessionNumber: ""},
		{CIK: "2", AccessionNumber: "0000000002-24-000001", FormType: "10-K"},
		{CIK: "3", AccessionNumber: "0000000003-24-000001", FormType: "10-K"},
	}}
	ing := &fakeIngest{fail: map[string]bool{"0000000002-24-000001": true}}
	ans := &fakeAnswer{}
	cmp := &fakeCompare{}
	r := NewResearch(search, ing, ans, cmp)

	res, err := r.Run(context.Background(), ResearchRequest{
		Question:       "How did margins change?",
		FormTypes:      []string{"10-K"},
		DateFrom:       "2024-01-01",
		MaxResults:     4,
		IncludeCompare: true,
		EmbedAPIKey:    "sk-embed",
	})
	require.NoError(t, err)
	require.Equal(t, 4, search.last.Count)
	require.Equal(t, []string{"0000000001-24-000001", "0000000002-24-000001", "0000000003-24-000001"}, ing.order)
	require.Len(t, res.IngestedFilings, 2)
	require.Equal(t, []Failure{{AccessionNumber: "0000000002-24-000001", Error: "download failed"}}, res.Failures)

	require.Equal(t, 6, ans.last.TopK)
	require.Equal(t, 5000, ans.last.ContextWindow)
	require.Equal(t, "sec_filing", ans.last.Filter.SourceType)
	require.Equal(t, "10-K", ans.last.Filter.FormType)
	require.NotNil(t, ans.last.Filter.FiledFrom)
	require.Nil(t, ans.last.Filter.FiledTo)

	require.Len(t, res.References, 1)
	require.Equal(t, "0000320193-23-000106", res.References[0].AccessionNumber)

	require.Len(t, cmp.calls, 1)
	require.Equal(t, "0000000001-24-000001", cmp.calls[0].AccessionA)
	require.Equal(t, "0000000003-24-000001", cmp.calls[0].AccessionB)
	require.Equal(t, "How did margins change?", cmp.calls[0].FocusTopic)
	require.Equal(t, "sk-embed", cmp.calls[0].EmbedAPIKey)
	require.Equal(t, "sk-embed", ans.last.EmbedAPIKey)
	require.NotNil(t, res.Comparison)
}

func TestResearchSkipsCompareWithFewerThanTwo(t *testing.T) {
	search := &fakeSearch{hits: []edgar.SearchHit{{CIK: "1", AccessionNumber: "0000000001-24-000001"}}}
	cmp := &fakeCompare{}
	r := NewResearch(search, &fakeIngest{}, &fakeAnswer{}, cmp)
	res, err := r.Run(context.Background(), ResearchRequest{Question: "q", IncludeCompare: true, FormTypes: []string{"10-K", "10-Q"}})
	require.NoError(t, err)
	require.Nil(t, res.Comparison)
	require.Empty(t, cmp.calls)
	require.Equal(t, DefaultMaxResults, search.last.Count)
}

func TestResearchFilterMultipleFormsAndBadDates(t *testing.T) {
	f, err := ResearchFilter(ResearchRequest{FormTypes: []string{"10-K", "10-Q"}, DateTo: "2024-12-31"})
	require.NoError(t, err)
	require.Empty(t, f.FormType)
	require.Equal(t, "2024-12-31", f.FiledTo.Format("2006-01-02"))

	_, err = ResearchFilter(ResearchRequest{DateFrom: "last year"})
	require.ErrorIs(t, err, util.ErrValidation)

	r := NewResearch(&fakeSearch{}, &fakeIngest{}, &fakeAnswer{}, &fakeCompare{})
	_, err = r.Run(context.Background(), ResearchRequest{Question: " "})
	require.ErrorIs(t, err, util.ErrValidation)
}

type mockGateways struct{ llm *recordingLLM }

type recordingLLM struct {
	*providers.MockProvider
	req providers.CompletionRequest
}

func (r *recordingLLM) Complete(ctx context.Context, req providers.CompletionRequest) (providers.Completion, error) {
	r.req = req
	return r.MockProvider.Complete(ctx, req)
}

func (m mockGateways) Completion(name, key string) (providers.CompletionProvider, error) {
	return m.llm, nil
}

func (m mockGateways) Embedding(name, key string) (providers.EmbeddingProvider, error) {
	return providers.NewMockProvider(8), nil
}

func (m mockGateways) HasEmbeddingCredential() bool { return true }

func TestComparatorFiltersEachSide(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.NewChromemIndex("", "cmp")
	require.NoError(t, err)
	emb := providers.NewMockProvider(8)
	var docs []vector.Document
	for _, d := range []struct{ id, acc, src, text string }{
		{"a0", "0000000001-24-000001", "sec_filing", "Filing A revenue rose."},
		{"a1", "0000000001-24-000001", "sec_filing", "Filing A costs fell."},
		{"b0", "0000000002-24-000001", "sec_filing", "Filing B revenue fell."},
		{"x0", "0000000001-24-000001", "document", "Uploaded note about A."},
	} {
		v, err := providers.EmbedOne(ctx, emb, d.text)
		require.NoError(t, err)
		docs = append(docs, vector.Document{ID: d.id, Content: d.text, Embedding: v, Metadata: map[string]any{
			vector.MetaAccessionNumber: d.acc,
			vector.MetaSourceType:      d.src,
		}})
	}
	_, err = idx.Add(ctx, docs)
	require.NoError(t, err)

	llm := &recordingLLM{MockProvider: providers.NewMockProvider(8)}
	c := NewComparator(mockGateways{llm: llm}, idx)
	out, err := c.Compare(ctx, CompareRequest{AccessionA: "0000000001-24-000001", AccessionB: "0000000002-24-000001"})
	require.NoError(t, err)
	require.Len(t, out.Sources["filing_a"], 2)
	require.Len(t, out.Sources["filing_b"], 1)
	require.Equal(t, "b0", out.Sources["filing_b"][0].ID)
	require.InDelta(t, 0.2, llm.req.Temperature, 1e-9)
	require.True(t, strings.HasPrefix(llm.req.Prompt, "You are a securities analyst."))
	require.Contains(t, llm.req.Prompt, "Focus: "+DefaultCompareQuery)
	require.Contains(t, llm.req.Prompt, "Filing B (accession 0000000002-24-000001):\nFiling B revenue fell.")
	require.Equal(t, "mock", out.Provider)

	_, err = c.Compare(ctx, CompareRequest{AccessionA: "x"})
	require.ErrorIs(t, err, util.ErrValidation)
}

// keyedGateways only hands out an embedder when a key is supplied.
type keyedGateways struct {
	mockGateways
	embedKey string
}

func (k *keyedGateways) Embedding(name, key string) (providers.EmbeddingProvider, error) {
	k.embedKey = key
	if key == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", util.ErrConfiguration)
	}
	return providers.NewMockProvider(8), nil
}

func TestComparatorUsesRequestEmbeddingKey(t *testing.T) {
	ctx := context.Background()
	idx, err := vector.NewChromemIndex("", "cmp-key")
	require.NoError(t, err)
	gw := &keyedGateways{mockGateways: mockGateways{llm: &recordingLLM{MockProvider: providers.NewMockProvider(8)}}}
	c := NewComparator(gw, idx)
	req := CompareRequest{AccessionA: "0000000001-24-000001", AccessionB: "0000000002-24-000001"}

	_, err = c.Compare(ctx, req)
	require.ErrorIs(t, err, util.ErrConfiguration)

	req.EmbedAPIKey = "sk-caller"
	_, err = c.Compare(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "sk-caller", gw.embedKey)
}
