// Package rag answers questions over the vector index: embed the question,
// retrieve the nearest chunks, pack them into a bounded context and ask the
// completion gateway.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"edgarrag/internal/providers"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTopK          = 5
	DefaultContextWindow = 4000

	snippetRunes = 280
)

// Gateways resolves provider instances; *providers.Manager satisfies it.
type Gateways interface {
	Completion(name, apiKey string) (providers.CompletionProvider, error)
	Embedding(name, apiKey string) (providers.EmbeddingProvider, error)
	HasEmbeddingCredential() bool
}

type Pipeline struct {
	gateways Gateways
	index    vector.Index

	// ContextWindow caps the summed length of retrieved chunks placed in
	// the prompt.
	ContextWindow int
	TopK          int
}

func NewPipeline(gateways Gateways, index vector.Index) *Pipeline {
	return &Pipeline{gateways: gateways, index: index, ContextWindow: DefaultContextWindow, TopK: DefaultTopK}
}

type QueryRequest struct {
	Question     string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	TopK         int

	// ContextWindow overrides the pipeline default when positive.
	ContextWindow int
	Filter        vector.Filter

	// Provider selects the completion gateway ("name" or "name:model").
	Provider    string
	APIKey      string
	EmbedAPIKey string
}

type Source struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Snippet  string         `json:"snippet,omitempty"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

type Answer struct {
	Answer            string         `json:"answer"`
	ContextChunksUsed []string       `json:"context_chunks_used"`
	Sources           []Source       `json:"sources"`
	Model             string         `json:"model"`
	Provider          string         `json:"provider"`
	Usage             map[string]int `json:"usage,omitempty"`
}

// TokensUsed reports total tokens from the usage map, or nil when the
// provider did not report usage.
func (a Answer) TokensUsed() *int {
	if len(a.Usage) == 0 {
		return nil
	}
	if n, ok := a.Usage["total_tokens"]; ok {
		return &n
	}
	n := a.Usage["prompt_tokens"] + a.Usage["completion_tokens"] + a.Usage["input_tokens"] + a.Usage["output_tokens"]
	return &n
}

// Retrieval is the packed context for one question.
type Retrieval struct {
	Prompt  string
	Chunks  []string
	Sources []Source
}

func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (Answer, error) {
	ret, llm, err := p.prepare(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	out, err := llm.Complete(ctx, providers.CompletionRequest{
		Prompt:      ret.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}
	return Answer{
		Answer:            out.Content,
		ContextChunksUsed: ret.Chunks,
		Sources:           ret.Sources,
		Model:             out.Model,
		Provider:          out.Provider,
		Usage:             out.Usage,
	}, nil
}

// Stream performs the same retrieval as Query and streams the completion.
func (p *Pipeline) Stream(ctx context.Context, req QueryRequest) (Retrieval, <-chan providers.StreamFragment, error) {
	ret, llm, err := p.prepare(ctx, req)
	if err != nil {
		return Retrieval{}, nil, err
	}
	ch, err := llm.Stream(ctx, providers.CompletionRequest{
		Prompt:      ret.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Retrieval{}, nil, fmt.Errorf("stream answer: %w", err)
	}
	return ret, ch, nil
}

func (p *Pipeline) prepare(ctx context.Context, req QueryRequest) (Retrieval, providers.CompletionProvider, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Retrieval{}, nil, fmt.Errorf("%w: question is required", util.ErrValidation)
	}
	llm, err := p.gateways.Completion(req.Provider, req.APIKey)
	if err != nil {
		return Retrieval{}, nil, err
	}
	hits, err := p.retrieve(ctx, question, req)
	if err != nil {
		return Retrieval{}, nil, err
	}
	ret := p.pack(question, hits, req.ContextWindow)
	ret.Prompt = BuildPrompt(question, req.SystemPrompt, strings.Join(ret.Chunks, "\n\n"))
	return ret, llm, nil
}

// retrieve returns no hits when no embedding credential is available; the
// question is then answered without context.
func (p *Pipeline) retrieve(ctx context.Context, question string, req QueryRequest) ([]vector.SearchResult, error) {
	if req.EmbedAPIKey == "" && !p.gateways.HasEmbeddingCredential() {
		log.Warn().Msg("no embedding credential configured, answering without context")
		return nil, nil
	}
	embedder, err := p.gateways.Embedding("", req.EmbedAPIKey)
	if errors.Is(err, util.ErrConfiguration) {
		log.Warn().Err(err).Msg("embedding gateway unavailable, answering without context")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	vec, err := providers.EmbedOne(ctx, embedder, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = p.TopK
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	hits, err := p.index.Search(ctx, vec, topK, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return hits, nil
}

// pack keeps hits in rank order until the next one would push the summed
// content length, in characters, past the context window.
func (p *Pipeline) pack(question string, hits []vector.SearchResult, window int) Retrieval {
	if window <= 0 {
		window = p.ContextWindow
	}
	if window <= 0 {
		window = DefaultContextWindow
	}
	ret := Retrieval{Chunks: []string{}, Sources: []Source{}}
	total := 0
	for _, h := range hits {
		n := utf8.RuneCountInString(h.Content)
		if total+n > window {
			break
		}
		total += n
		ret.Chunks = append(ret.Chunks, h.Content)
		ret.Sources = append(ret.Sources, Source{
			ID:       h.ID,
			Content:  h.Content,
			Snippet:  util.EvidenceSnippet(h.Content, question, snippetRunes),
			Score:    h.Score,
			Metadata: h.Metadata,
		})
	}
	return ret
}

const contextInstruction = "Use the following context to answer the question. If the context doesn't contain enough information, say so."

// BuildPrompt renders one of four templates depending on which of system
// prompt and context are present.
func BuildPrompt(question, systemPrompt, context string) string {
	hasSystem := strings.TrimSpace(systemPrompt) != ""
	hasContext := context != ""
	switch {
	case hasSystem && hasContext:
		return systemPrompt + "\n\nContext:\n" + context + "\n\nQuestion: " + question + "\n\nAnswer:"
	case hasContext:
		return contextInstruction + "\n\nContext:\n" + context + "\n\nQuestion: " + question + "\n\nAnswer:"
	case hasSystem:
		return systemPrompt + "\n\nQuestion: " + question + "\n\nAnswer:"
	default:
		return "Question: " + question + "\n\nAnswer:"
	}
}
