package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"edgarrag/internal/agent"
	"edgarrag/internal/config"
	"edgarrag/internal/edgar"
	"edgarrag/internal/ingest"
	"edgarrag/internal/models"
	"edgarrag/internal/providers"
	"edgarrag/internal/rag"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	tclient "go.temporal.io/sdk/client"
)

type Querier interface {
	Query(ctx context.Context, req rag.QueryRequest) (rag.Answer, error)
	Stream(ctx context.Context, req rag.QueryRequest) (rag.Retrieval, <-chan providers.StreamFragment, error)
}

type Ingester interface {
	IngestFiling(ctx context.Context, req ingest.Request) (models.Filing, error)
	IngestDocument(ctx context.Context, up ingest.Upload) (models.Document, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)
}

type Researcher interface {
	Run(ctx context.Context, req agent.ResearchRequest) (agent.ResearchResult, error)
}

type EDGAR interface {
	SearchFilings(ctx context.Context, q edgar.SearchQuery) ([]edgar.SearchHit, error)
	CompanySubmissions(ctx context.Context, cik string) (map[string]any, error)
}

type Documents interface {
	List(ctx context.Context, limit, offset int) ([]models.Document, error)
	Counts(ctx context.Context) (docs int, chunks int, err error)
}

type Filings interface {
	List(ctx context.Context, formType, status string, limit, offset int) ([]models.Filing, error)
}

type Jobs interface {
	Enqueue(ctx context.Context, j models.IngestionJob) (models.IngestionJob, error)
	Get(ctx context.Context, id string) (models.IngestionJob, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.IngestionJob, error)
}

type QueueRunner interface {
	ProcessNext(ctx context.Context) (bool, error)
}

type Queries interface {
	Insert(ctx context.Context, rec models.QueryRecord) (string, error)
	List(ctx context.Context, limit, offset int) ([]models.QueryRecord, error)
}

// Deps are the collaborators behind the HTTP surface. Temporal may be nil,
// in which case the async research routes are not mounted.
type Deps struct {
	Gateways  rag.Gateways
	Pipeline  Querier
	Ingester  Ingester
	Research  Researcher
	Comparer  agent.Comparer
	EDGAR     EDGAR
	Index     vector.Index
	Documents Documents
	Filings   Filings
	Jobs      Jobs
	Queue     QueueRunner
	Queries   Queries
	Temporal  tclient.Client
}

type Server struct {
	cfg config.Config
	Deps
}

func NewServer(cfg config.Config, deps Deps) *Server {
	return &Server{cfg: cfg, Deps: deps}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/ask/stream", s.handleAskStream)
	mux.HandleFunc("/rag/query", s.handleRAGQuery)
	mux.HandleFunc("/rag/stream", s.handleRAGStream)
	mux.HandleFunc("/rag/queries", s.handleQueryLog)
	mux.HandleFunc("/documents/upload", s.handleUpload)
	mux.HandleFunc("/documents/count", s.handleDocumentCount)
	mux.HandleFunc("/documents/list", s.handleDocumentList)
	mux.HandleFunc("/documents/", s.handleDocumentScoped)
	mux.HandleFunc("/sec/search", s.handleSECSearch)
	mux.HandleFunc("/sec/ingest", s.handleSECIngest)
	mux.HandleFunc("/sec/ingest/queue", s.handleSECEnqueue)
	mux.HandleFunc("/sec/ingest/queue/process-next", s.handleSECProcessNext)
	mux.HandleFunc("/sec/ingest/jobs", s.handleSECJobs)
	mux.HandleFunc("/sec/ingest/jobs/", s.handleSECJob)
	mux.HandleFunc("/sec/research", s.handleSECResearch)
	mux.HandleFunc("/sec/compare", s.handleSECCompare)
	mux.HandleFunc("/sec/filings", s.handleSECFilings)
	mux.HandleFunc("/sec/companies/", s.handleSECCompanyScoped)
	mux.HandleFunc("/sec/filing-types", s.handleSECFilingTypes)
	if s.Temporal != nil {
		mux.HandleFunc("/sec/research/async", s.handleResearchAsync)
		mux.HandleFunc("/sec/research/", s.handleResearchScoped)
	}
	return otelhttp.NewHandler(withCORS(mux), "edgarrag.api")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"vector_store":   s.cfg.VectorStore,
		"llm_provider":   s.cfg.LLMProvider,
		"embed_provider": s.cfg.EmbedProvider,
		"temporal":       s.Temporal != nil,
	})
}

// credentials resolves per-request gateway overrides from headers. The
// OpenAI key always feeds the embedding gateway; each completion key only
// applies when its provider is the one selected.
type credentials struct {
	provider string
	llmKey   string
	embedKey string
}

func (s *Server) credentials(r *http.Request, bodyProvider string) credentials {
	provider := strings.TrimSpace(r.Header.Get("X-LLM-Provider"))
	if provider == "" {
		provider = strings.TrimSpace(bodyProvider)
	}
	name := providers.ParseProviderRef(provider).Name
	if name == "" {
		name = providers.ParseProviderRef(s.cfg.LLMProvider).Name
	}
	openaiKey := strings.TrimSpace(r.Header.Get("X-OpenAI-Key"))
	c := credentials{provider: provider}
	switch name {
	case "openai":
		c.llmKey = openaiKey
	case "anthropic":
		c.llmKey = strings.TrimSpace(r.Header.Get("X-Anthropic-Key"))
	}
	if providers.ParseProviderRef(s.cfg.EmbedProvider).Name == "openai" {
		c.embedKey = openaiKey
	}
	return c
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", util.ErrValidation, err)
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return false
	}
	return true
}

func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// writeFailure picks the status from the error class.
func writeFailure(w http.ResponseWriter, err error) {
	writeErr(w, statusFor(err), err)
}

func statusFor(err error) int {
	var perr *providers.ProviderError
	switch {
	case errors.Is(err, util.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "ER-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{Code: "ER-API-5020", Message: "Upstream provider unavailable. Retry shortly."}
	case status >= 500:
		switch {
		case errors.Is(err, util.ErrConfiguration):
			return apiError{Code: "ER-API-5001", Message: err.Error()}
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "ER-DB-5001",
				Message: "Database schema is not initialized. Restart the API to apply it.",
			}
		case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "ER-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "ER-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "ER-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "ER-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		code = "ER-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusConflict:
		code = "ER-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusRequestEntityTooLarge:
		code = "ER-API-4013"
		msg = "Uploaded file exceeds the size limit."
	}

	// validation messages are written for callers and pass through
	if status == http.StatusBadRequest && errors.Is(err, util.ErrValidation) {
		msg = strings.TrimPrefix(err.Error(), util.ErrValidation.Error()+": ")
	}
	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-LLM-Provider, X-OpenAI-Key, X-Anthropic-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
