package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"edgarrag/internal/models"
	"edgarrag/internal/providers"
	"edgarrag/internal/rag"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"

	"github.com/rs/zerolog/log"
)

const defaultTemperature = 0.7

type askRequest struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	Provider     string   `json:"provider"`
}

func (s *Server) decodeAsk(r *http.Request) (askRequest, providers.CompletionRequest, error) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, providers.CompletionRequest{}, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, providers.CompletionRequest{}, fmt.Errorf("%w: prompt is required", util.ErrValidation)
	}
	temp, err := temperature(req.Temperature)
	if err != nil {
		return req, providers.CompletionRequest{}, err
	}
	if req.MaxTokens < 0 {
		return req, providers.CompletionRequest{}, fmt.Errorf("%w: max_tokens must be positive", util.ErrValidation)
	}
	return req, providers.CompletionRequest{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  temp,
		MaxTokens:    req.MaxTokens,
	}, nil
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	req, creq, err := s.decodeAsk(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	creds := s.credentials(r, req.Provider)
	llm, err := s.Gateways.Completion(creds.provider, creds.llmKey)
	if err != nil {
		writeFailure(w, err)
		return
	}
	out, err := llm.Complete(r.Context(), creq)
	if err != nil {
		log.Error().Err(err).Str("provider", creds.provider).Msg("ask failed")
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	req, creq, err := s.decodeAsk(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	creds := s.credentials(r, req.Provider)
	llm, err := s.Gateways.Completion(creds.provider, creds.llmKey)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ch, err := llm.Stream(r.Context(), creq)
	if err != nil {
		writeFailure(w, err)
		return
	}
	streamFragments(w, nil, ch)
}

type ragRequest struct {
	Question        string   `json:"question"`
	SystemPrompt    string   `json:"system_prompt"`
	Temperature     *float64 `json:"temperature"`
	MaxTokens       int      `json:"max_tokens"`
	TopK            int      `json:"top_k"`
	FormType        string   `json:"form_type"`
	CIK             string   `json:"cik"`
	AccessionNumber string   `json:"accession_number"`
	FiledDateFrom   string   `json:"filed_date_from"`
	FiledDateTo     string   `json:"filed_date_to"`
	Provider        string   `json:"provider"`
}

func (s *Server) decodeRAG(r *http.Request) (rag.QueryRequest, error) {
	var req ragRequest
	if err := decodeJSON(r, &req); err != nil {
		return rag.QueryRequest{}, err
	}
	if strings.TrimSpace(req.Question) == "" {
		return rag.QueryRequest{}, fmt.Errorf("%w: question is required", util.ErrValidation)
	}
	temp, err := temperature(req.Temperature)
	if err != nil {
		return rag.QueryRequest{}, err
	}
	if req.TopK < 0 || req.TopK > 20 {
		return rag.QueryRequest{}, fmt.Errorf("%w: top_k must be between 1 and 20", util.ErrValidation)
	}
	filter, err := ragFilter(req)
	if err != nil {
		return rag.QueryRequest{}, err
	}
	creds := s.credentials(r, req.Provider)
	return rag.QueryRequest{
		Question:     req.Question,
		SystemPrompt: req.SystemPrompt,
		Temperature:  temp,
		MaxTokens:    req.MaxTokens,
		TopK:         req.TopK,
		Filter:       filter,
		Provider:     creds.provider,
		APIKey:       creds.llmKey,
		EmbedAPIKey:  creds.embedKey,
	}, nil
}

// ragFilter scopes the search to filings whenever any filing field is set.
func ragFilter(req ragRequest) (vector.Filter, error) {
	f := vector.Filter{
		FormType:        strings.TrimSpace(req.FormType),
		CIK:             strings.TrimSpace(req.CIK),
		AccessionNumber: strings.TrimSpace(req.AccessionNumber),
	}
	var err error
	if f.FiledFrom, err = optionalDate("filed_date_from", req.FiledDateFrom); err != nil {
		return vector.Filter{}, err
	}
	if f.FiledTo, err = optionalDate("filed_date_to", req.FiledDateTo); err != nil {
		return vector.Filter{}, err
	}
	if f.FormType != "" || f.CIK != "" || f.AccessionNumber != "" || f.HasDateRange() {
		f.SourceType = models.SourceSECFiling
	}
	return f, nil
}

func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	start := time.Now()
	req, err := s.decodeRAG(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ans, err := s.Pipeline.Query(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Int("question_len", len(req.Question)).Msg("rag query failed")
		s.audit(r.Context(), models.QueryRecord{
			Question:     req.Question,
			LatencyMS:    millisSince(start),
			ErrorMessage: err.Error(),
		})
		writeFailure(w, err)
		return
	}
	latency := millisSince(start)
	queryID := s.audit(r.Context(), models.QueryRecord{
		Question:     req.Question,
		Answer:       ans.Answer,
		SourcesCount: len(ans.Sources),
		LatencyMS:    latency,
		Model:        ans.Model,
		Provider:     ans.Provider,
		TokensUsed:   ans.TokensUsed(),
	})
	log.Info().Str("query_id", queryID).Int("sources", len(ans.Sources)).Float64("latency_ms", latency).Msg("rag query")
	writeJSON(w, http.StatusOK, struct {
		rag.Answer
		LatencyMS float64 `json:"latency_ms"`
		QueryID   string  `json:"query_id,omitempty"`
	}{ans, latency, queryID})
}

func (s *Server) handleRAGStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	req, err := s.decodeRAG(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ret, ch, err := s.Pipeline.Stream(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	streamFragments(w, map[string]any{"sources": ret.Sources}, ch)
}

func (s *Server) handleQueryLog(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, offset := pageParams(r)
	list, err := s.Queries.List(r.Context(), limit, offset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": list})
}

// audit writes a query row and returns its id. Audit failures are logged and
// never fail the request.
func (s *Server) audit(ctx context.Context, rec models.QueryRecord) string {
	if s.Queries == nil {
		return ""
	}
	id, err := s.Queries.Insert(context.WithoutCancel(ctx), rec)
	if err != nil {
		log.Warn().Err(err).Msg("query audit write failed")
		return ""
	}
	return id
}

// streamFragments writes server-sent events: an optional header event, then
// one event per fragment until the final one.
func streamFragments(w http.ResponseWriter, header any, ch <-chan providers.StreamFragment) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	send := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if header != nil {
		send(header)
	}
	for frag := range ch {
		if frag.Err != nil {
			log.Warn().Err(frag.Err).Msg("stream ended with error")
		}
		send(frag)
	}
}

func temperature(v *float64) (float64, error) {
	if v == nil {
		return defaultTemperature, nil
	}
	if *v < 0 || *v > 2 {
		return 0, fmt.Errorf("%w: temperature must be between 0 and 2", util.ErrValidation)
	}
	return *v, nil
}

func optionalDate(field, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", util.ErrValidation, field)
	}
	return &t, nil
}

func millisSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
