package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbeddingProvider supports local, free embeddings via Ollama.
// Example model: nomic-embed-text.
type OllamaEmbeddingProvider struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

func NewOllamaEmbeddingProvider(baseURL, model string, dim int) *OllamaEmbeddingProvider {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbeddingProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   resolveOllamaEmbedModel(model),
		dim:     dim,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (o *OllamaEmbeddingProvider) Dimension() int { return o.dim }

func (o *OllamaEmbeddingProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.model}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	out := make([][]float32, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		payload, _ := json.Marshal(map[string]any{
			"model":  o.model,
			"prompt": text,
		})
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, info, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(httpReq)
		if err != nil {
			return nil, info, newProviderError("ollama", 0, fmt.Errorf("ollama embedding request failed: %w", err))
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, info, newProviderError("ollama", resp.StatusCode, fmt.Errorf("ollama embedding error: %s", string(body)))
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, info, fmt.Errorf("decode ollama embedding response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return nil, info, newProviderError("ollama", 0, fmt.Errorf("ollama returned empty embedding"))
		}
		out = append(out, matchDimension(parsed.Embedding, o.dim))
	}
	return out, info, nil
}

func resolveOllamaEmbedModel(model string) string {
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "", "nomic":
		return "nomic-embed-text"
	case "bge":
		return "bge-small-en-v1.5"
	}
	return strings.TrimSpace(model)
}

func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
