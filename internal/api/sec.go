package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"edgarrag/internal/activities"
	"edgarrag/internal/agent"
	"edgarrag/internal/edgar"
	"edgarrag/internal/ingest"
	"edgarrag/internal/models"
	"edgarrag/internal/rag"
	"edgarrag/internal/util"
	"edgarrag/internal/workflows"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

type secSearchRequest struct {
	Query     string   `json:"query"`
	Start     int      `json:"start"`
	Count     int      `json:"count"`
	FormTypes []string `json:"form_types"`
	DateFrom  string   `json:"date_from"`
	DateTo    string   `json:"date_to"`
}

func (s *Server) handleSECSearch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req secSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeFailure(w, fmt.Errorf("%w: query is required", util.ErrValidation))
		return
	}
	if req.Count == 0 {
		req.Count = 10
	}
	if req.Start < 0 || req.Count < 1 || req.Count > 100 {
		writeFailure(w, fmt.Errorf("%w: start must be >= 0 and count between 1 and 100", util.ErrValidation))
		return
	}
	for _, field := range []struct{ name, v string }{{"date_from", req.DateFrom}, {"date_to", req.DateTo}} {
		if _, err := optionalDate(field.name, field.v); err != nil {
			writeFailure(w, err)
			return
		}
	}
	hits, err := s.EDGAR.SearchFilings(r.Context(), edgar.SearchQuery{
		Query:     req.Query,
		Start:     req.Start,
		Count:     req.Count,
		FormTypes: req.FormTypes,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
	})
	if err != nil {
		log.Error().Err(err).Msg("sec search failed")
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits, "count": len(hits)})
}

func (s *Server) handleSECIngest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req ingest.Request
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.FormType) == "" {
		writeFailure(w, fmt.Errorf("%w: form_type is required", util.ErrValidation))
		return
	}
	f, err := s.Ingester.IngestFiling(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleSECEnqueue(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req ingest.Request
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	job, err := jobFromRequest(req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	out, err := s.Jobs.Enqueue(r.Context(), job)
	if err != nil {
		writeFailure(w, err)
		return
	}
	log.Info().Str("job_id", out.ID).Str("accession", out.AccessionNumber).Msg("ingestion job queued")
	writeJSON(w, http.StatusAccepted, out)
}

// jobFromRequest validates a queue request up front so that bad input fails
// at enqueue time rather than in the worker.
func jobFromRequest(req ingest.Request) (models.IngestionJob, error) {
	accession, err := edgar.SanitizeAccession(req.AccessionNumber)
	if err != nil {
		return models.IngestionJob{}, err
	}
	cik := strings.TrimSpace(req.CIK)
	if cik == "" {
		return models.IngestionJob{}, fmt.Errorf("%w: cik is required", util.ErrValidation)
	}
	formType := strings.TrimSpace(req.FormType)
	if formType == "" {
		return models.IngestionJob{}, fmt.Errorf("%w: form_type is required", util.ErrValidation)
	}
	filed, err := optionalDate("filed_date", req.FiledDate)
	if err != nil {
		return models.IngestionJob{}, err
	}
	return models.IngestionJob{
		CIK:             edgar.PadCIK(cik),
		AccessionNumber: accession,
		FormType:        formType,
		FiledDate:       filed,
		CompanyName:     strings.TrimSpace(req.CompanyName),
		FilingURL:       strings.TrimSpace(req.FilingURL),
	}, nil
}

func (s *Server) handleSECProcessNext(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	processed, err := s.Queue.ProcessNext(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": processed})
}

func (s *Server) handleSECJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, offset := pageParams(r)
	jobs, err := s.Jobs.List(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": limit, "offset": offset})
}

func (s *Server) handleSECJob(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sec/ingest/jobs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	job, err := s.Jobs.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type researchRequest struct {
	Question       string   `json:"question"`
	FormTypes      []string `json:"form_types"`
	DateFrom       string   `json:"date_from"`
	DateTo         string   `json:"date_to"`
	MaxResults     int      `json:"max_results"`
	IncludeCompare *bool    `json:"include_compare"`
	Provider       string   `json:"provider"`
}

func decodeResearch(r *http.Request) (researchRequest, error) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Question) == "" {
		return req, fmt.Errorf("%w: question is required", util.ErrValidation)
	}
	if req.MaxResults == 0 {
		req.MaxResults = agent.DefaultMaxResults
	}
	if req.MaxResults < 1 || req.MaxResults > 25 {
		return req, fmt.Errorf("%w: max_results must be between 1 and 25", util.ErrValidation)
	}
	if req.IncludeCompare == nil {
		yes := true
		req.IncludeCompare = &yes
	}
	return req, nil
}

func (s *Server) handleSECResearch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	start := time.Now()
	req, err := decodeResearch(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	creds := s.credentials(r, req.Provider)
	res, err := s.Research.Run(r.Context(), agent.ResearchRequest{
		Question:       req.Question,
		FormTypes:      req.FormTypes,
		DateFrom:       req.DateFrom,
		DateTo:         req.DateTo,
		MaxResults:     req.MaxResults,
		IncludeCompare: *req.IncludeCompare,
		Provider:       creds.provider,
		APIKey:         creds.llmKey,
		EmbedAPIKey:    creds.embedKey,
	})
	if err != nil {
		log.Error().Err(err).Msg("research failed")
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
		Answer:       res.Answer,
		SourcesCount: len(res.Sources),
		LatencyMS:    latency,
		Model:        res.Model,
		Provider:     res.Provider,
		TokensUsed:   rag.Answer{Usage: res.Usage}.TokensUsed(),
	})
	writeJSON(w, http.StatusOK, struct {
		agent.ResearchResult
		LatencyMS float64 `json:"latency_ms"`
		QueryID   string  `json:"query_id,omitempty"`
	}{res, latency, queryID})
}

func (s *Server) handleSECCompare(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		agent.CompareRequest
		Provider string `json:"provider"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if req.TopK < 0 || req.TopK > 20 {
		writeFailure(w, fmt.Errorf("%w: top_k must be between 1 and 20", util.ErrValidation))
		return
	}
	for _, acc := range []string{req.AccessionA, req.AccessionB} {
		if _, err := edgar.SanitizeAccession(acc); err != nil {
			writeFailure(w, err)
			return
		}
	}
	creds := s.credentials(r, req.Provider)
	cmp := req.CompareRequest
	cmp.Provider, cmp.APIKey, cmp.EmbedAPIKey = creds.provider, creds.llmKey, creds.embedKey
	out, err := s.Comparer.Compare(r.Context(), cmp)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSECFilings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	limit, offset := pageParams(r)
	list, err := s.Filings.List(r.Context(), q.Get("form_type"), q.Get("status"), limit, offset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filings": list, "limit": limit, "offset": offset})
}

func (s *Server) handleSECCompanyScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sec/companies/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "submissions" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	out, err := s.EDGAR.CompanySubmissions(r.Context(), parts[0])
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSECFilingTypes(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	types, err := edgar.CommonFilingTypes()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filing_types": types})
}

func (s *Server) handleResearchAsync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	req, err := decodeResearch(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	we, err := s.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                    "research-" + uuid.NewString(),
		TaskQueue:             s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, workflows.ResearchWorkflow, workflows.ResearchInput{
		Question:       req.Question,
		FormTypes:      req.FormTypes,
		DateFrom:       req.DateFrom,
		DateTo:         req.DateTo,
		MaxResults:     req.MaxResults,
		IncludeCompare: *req.IncludeCompare,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

// handleResearchScoped returns the finished report, or 202 with live progress
// while the workflow is still running.
func (s *Server) handleResearchScoped(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sec/research/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	report, err := activities.ReadReport(s.cfg.ReportsDir, id)
	if err == nil {
		writeJSON(w, http.StatusOK, report)
		return
	}
	if !errors.Is(err, util.ErrNotFound) {
		writeFailure(w, err)
		return
	}
	resp, qerr := s.Temporal.QueryWorkflow(r.Context(), id, "", workflows.QueryGetResearchProgress)
	if qerr != nil {
		log.Debug().Err(qerr).Str("workflow_id", id).Msg("progress query failed")
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var prog workflows.ResearchProgress
	if err := resp.Get(&prog); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, prog)
}
