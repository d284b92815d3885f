package agent

import (
	"context"
	"fmt"
	"strings"

	"edgarrag/internal/models"
	"edgarrag/internal/providers"
	"edgarrag/internal/rag"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"
)

const (
	DefaultCompareQuery = "Compare the filings and highlight key differences and similarities."
	DefaultCompareTopK  = 6

	compareTemperature = 0.2
)

type CompareRequest struct {
	AccessionA string `json:"accession_a"`
	AccessionB string `json:"accession_b"`
	FocusTopic string `json:"focus_topic,omitempty"`
	TopK       int    `json:"top_k,omitempty"`

	Provider    string `json:"-"`
	APIKey      string `json:"-"`
	EmbedAPIKey string `json:"-"`
}

type Comparison struct {
	Answer   string                  `json:"answer"`
	Sources  map[string][]rag.Source `json:"sources"`
	Model    string                  `json:"model"`
	Provider string                  `json:"provider"`
	Usage    map[string]int          `json:"usage,omitempty"`
}

// Comparator retrieves the same query against two filings separately and
// asks for a side-by-side analysis.
type Comparator struct {
	gateways rag.Gateways
	index    vector.Index
}

func NewComparator(gateways rag.Gateways, index vector.Index) *Comparator {
	return &Comparator{gateways: gateways, index: index}
}

func (c *Comparator) Compare(ctx context.Context, req CompareRequest) (Comparison, error) {
	a, b := strings.TrimSpace(req.AccessionA), strings.TrimSpace(req.AccessionB)
	if a == "" || b == "" {
		return Comparison{}, fmt.Errorf("%w: both accession numbers are required", util.ErrValidation)
	}
	query := strings.TrimSpace(req.FocusTopic)
	if query == "" {
		query = DefaultCompareQuery
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultCompareTopK
	}

	llm, err := c.gateways.Completion(req.Provider, req.APIKey)
	if err != nil {
		return Comparison{}, err
	}
	embedder, err := c.gateways.Embedding("", req.EmbedAPIKey)
	if err != nil {
		return Comparison{}, err
	}
	vec, err := providers.EmbedOne(ctx, embedder, query)
	if err != nil {
		return Comparison{}, fmt.Errorf("embed compare query: %w", err)
	}
	hitsA, err := c.side(ctx, vec, a, topK)
	if err != nil {
		return Comparison{}, err
	}
	hitsB, err := c.side(ctx, vec, b, topK)
	if err != nil {
		return Comparison{}, err
	}

	out, err := llm.Complete(ctx, providers.CompletionRequest{
		Prompt:      comparePrompt(query, a, b, joinContent(hitsA), joinContent(hitsB)),
		Temperature: compareTemperature,
	})
	if err != nil {
		return Comparison{}, fmt.Errorf("generate comparison: %w", err)
	}
	return Comparison{
		Answer: out.Content,
		Sources: map[string][]rag.Source{
			"filing_a": toSources(hitsA, query),
			"filing_b": toSources(hitsB, query),
		},
		Model:    out.Model,
		Provider: out.Provider,
		Usage:    out.Usage,
	}, nil
}

func (c *Comparator) side(ctx context.Context, vec []float32, accession string, topK int) ([]vector.SearchResult, error) {
	hits, err := c.index.Search(ctx, vec, topK, vector.Filter{
		AccessionNumber: accession,
		SourceType:      models.SourceSECFiling,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", accession, err)
	}
	return hits, nil
}

func comparePrompt(focus, a, b, ctxA, ctxB string) string {
	return "You are a securities analyst. Compare the two SEC filings below.\n" +
		"Focus: " + focus + "\n\n" +
		"Filing A (accession " + a + "):\n" + ctxA + "\n\n" +
		"Filing B (accession " + b + "):\n" + ctxB + "\n\n" +
		"Provide a structured comparison with citations to each filing section where possible."
}

func joinContent(hits []vector.SearchResult) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Content
	}
	return strings.Join(parts, "\n\n")
}

func toSources(hits []vector.SearchResult, query string) []rag.Source {
	out := make([]rag.Source, 0, len(hits))
	for _, h := range hits {
		out = append(out, rag.Source{
			ID:       h.ID,
			Content:  h.Content,
			Snippet:  util.EvidenceSnippet(h.Content, query, 280),
			Score:    h.Score,
			Metadata: h.Metadata,
		})
	}
	return out
}
