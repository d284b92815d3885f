package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider("sk-test", "", "").WithBaseURL(srv.URL)
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	})
	vecs, info, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	require.Equal(t, "text-embedding-3-small", info.Model)
	require.Equal(t, 1536, p.Dimension())
}

func TestOpenAICompleteParsesUsage(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		require.EqualValues(t, 64, body["max_tokens"])
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	})
	out, err := p.Complete(context.Background(), CompletionRequest{Prompt: "q", SystemPrompt: "s", Temperature: 0.2, MaxTokens: 64})
	require.NoError(t, err)
	require.Equal(t, "hi", out.Content)
	require.Equal(t, "openai", out.Provider)
	require.Equal(t, "gpt-4o-mini", out.Model)
	require.Equal(t, "stop", out.FinishReason)
	require.Equal(t, 4, out.Usage["total_tokens"])
}

func TestOpenAICompleteRateLimited(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})
	_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, http.StatusTooManyRequests, pe.Status)
	require.Equal(t, ErrorRate, pe.Kind)
}

func TestOpenAICompleteRejectsTemperature(t *testing.T) {
	p := NewOpenAIProvider("k", "", "")
	_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "q", Temperature: 2.5})
	require.Error(t, err)
}

func TestOpenAIStream(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	ch, err := p.Stream(context.Background(), CompletionRequest{Prompt: "q"})
	require.NoError(t, err)
	var got string
	var last StreamFragment
	for f := range ch {
		got += f.Content
		last = f
	}
	require.Equal(t, "Hello", got)
	require.True(t, last.Done)
	require.NoError(t, last.Err)
}

func TestOpenAIStreamTruncatedEndsWithErrorFragment(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	})
	ch, err := p.Stream(context.Background(), CompletionRequest{Prompt: "q"})
	require.NoError(t, err)
	frags := make([]StreamFragment, 0)
	for f := range ch {
		frags = append(frags, f)
	}
	require.Len(t, frags, 2)
	require.Equal(t, "partial", frags[0].Content)
	require.True(t, frags[1].Done)
	require.Error(t, frags[1].Err)
}
