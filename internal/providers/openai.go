package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	openAIBaseURL          = "https://api.openai.com/v1"
	defaultOpenAIChatModel = "gpt-4o-mini"
	defaultEmbedModel      = "text-embedding-3-small"
	openAIEmbedBatch       = 100
)

var embeddingDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider talks to the OpenAI REST API, or any OpenAI-compatible
// endpoint via WithBaseURL.
type OpenAIProvider struct {
	name       string
	apiKey     string
	baseURL    string
	chatModel  string
	embedModel string
	dim        int
	client     *http.Client
}

func NewOpenAIProvider(apiKey, chatModel, embedModel string) *OpenAIProvider {
	if strings.TrimSpace(chatModel) == "" {
		chatModel = defaultOpenAIChatModel
	}
	if strings.TrimSpace(embedModel) == "" {
		embedModel = defaultEmbedModel
	}
	return &OpenAIProvider{
		name:       "openai",
		apiKey:     apiKey,
		baseURL:    openAIBaseURL,
		chatModel:  chatModel,
		embedModel: embedModel,
		dim:        embeddingDimensions[embedModel],
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAIProvider) WithBaseURL(u string) *OpenAIProvider {
	o.baseURL = strings.TrimRight(u, "/")
	return o
}

// WithDimension sets the vector size for models missing from the known table.
func (o *OpenAIProvider) WithDimension(dim int) *OpenAIProvider {
	if o.dim == 0 {
		o.dim = dim
	}
	return o
}

func (o *OpenAIProvider) Dimension() int {
	return o.dim
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: o.name, Model: o.embedModel}
	out := make([][]float32, 0, len(req.Inputs))
	for start := 0; start < len(req.Inputs); start += openAIEmbedBatch {
		end := start + openAIEmbedBatch
		if end > len(req.Inputs) {
			end = len(req.Inputs)
		}
		vecs, err := o.embedBatch(ctx, req.Inputs[start:end])
		if err != nil {
			return nil, info, err
		}
		out = append(out, vecs...)
	}
	return out, info, nil
}

func (o *OpenAIProvider) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	body, status, err := o.post(ctx, "/embeddings", map[string]any{"model": o.embedModel, "input": inputs})
	if err != nil {
		return nil, newProviderError(o.name, status, fmt.Errorf("openai embedding request failed: %w", err))
	}
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, newProviderError(o.name, 0, fmt.Errorf("openai returned %d embeddings for %d inputs", len(parsed.Data), len(inputs)))
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, d.Embedding)
	}
	return out, nil
}

func (o *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if err := validateCompletion(req); err != nil {
		return Completion{}, err
	}
	body, status, err := o.post(ctx, "/chat/completions", o.chatPayload(req, false))
	if err != nil {
		return Completion{}, newProviderError(o.name, status, fmt.Errorf("%s generate request failed: %w", o.name, err))
	}
	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Completion{}, fmt.Errorf("decode generate response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, newProviderError(o.name, 0, fmt.Errorf("%s returned empty choices", o.name))
	}
	out := Completion{
		Content:      parsed.Choices[0].Message.Content,
		Model:        o.chatModel,
		Provider:     o.name,
		FinishReason: parsed.Choices[0].FinishReason,
	}
	if parsed.Usage != nil {
		out.Usage = map[string]int{
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
			"total_tokens":      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (o *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamFragment, error) {
	if err := validateCompletion(req); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(o.chatPayload(req, true))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	o.setHeaders(httpReq)
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, newProviderError(o.name, 0, fmt.Errorf("%s stream request failed: %w", o.name, err))
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, newProviderError(o.name, resp.StatusCode, fmt.Errorf("%s stream error %d: %s", o.name, resp.StatusCode, string(body)))
	}

	info := ProviderInfo{Name: o.name, Model: o.chatModel}
	return runStream(ctx, info, func(emit func(string) error) error {
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return fmt.Errorf("decode stream chunk: %w", err)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if err := emit(chunk.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
		if err := sc.Err(); err != nil {
			return newProviderError(o.name, 0, fmt.Errorf("read stream: %w", err))
		}
		return newProviderError(o.name, 0, fmt.Errorf("%s stream ended without a done marker", o.name))
	}), nil
}

func (o *OpenAIProvider) chatPayload(req CompletionRequest, stream bool) map[string]any {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})
	payload := map[string]any{
		"model":       o.chatModel,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (o *OpenAIProvider) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	o.setHeaders(httpReq)
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, resp.StatusCode, nil
}

func (o *OpenAIProvider) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+o.apiKey)
	r.Header.Set("Content-Type", "application/json")
}
