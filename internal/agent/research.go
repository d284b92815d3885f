// Package agent runs the multi-step research flow over EDGAR: search,
// ingest what was found, answer from the index, and optionally compare the
// first two filings.
package agent

import (
	"context"
	"fmt"
	"strings"

	"edgarrag/internal/edgar"
	"edgarrag/internal/filings"
	"edgarrag/internal/ingest"
	"edgarrag/internal/models"
	"edgarrag/internal/rag"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxResults    = 5
	researchTopK         = 6
	researchContextChars = 5000
)

type Searcher interface {
	SearchFilings(ctx context.Context, q edgar.SearchQuery) ([]edgar.SearchHit, error)
}

type Ingester interface {
	IngestFiling(ctx context.Context, req ingest.Request) (models.Filing, error)
}

type Answerer interface {
	Query(ctx context.Context, req rag.QueryRequest) (rag.Answer, error)
}

type Comparer interface {
	Compare(ctx context.Context, req CompareRequest) (Comparison, error)
}

type ResearchRequest struct {
	Question       string   `json:"question"`
	FormTypes      []string `json:"form_types,omitempty"`
	DateFrom       string   `json:"date_from,omitempty"`
	DateTo         string   `json:"date_to,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	IncludeCompare bool     `json:"include_compare"`

	Provider    string `json:"-"`
	APIKey      string `json:"-"`
	EmbedAPIKey string `json:"-"`
}

type IngestedFiling struct {
	AccessionNumber string `json:"accession_number"`
	FormType        string `json:"form_type"`
	FiledDate       string `json:"filed_date,omitempty"`
	DocumentID      string `json:"document_id,omitempty"`
}

type Failure struct {
	AccessionNumber string `json:"accession_number"`
	Error           string `json:"error"`
}

type ResearchResult struct {
	Answer          string                   `json:"answer"`
	Sources         []rag.Source             `json:"sources"`
	IngestedFilings []IngestedFiling         `json:"ingested_filings"`
	Failures        []Failure                `json:"failures,omitempty"`
	References      []filings.CrossReference `json:"references"`
	Comparison      *Comparison              `json:"comparison"`
	Model           string                   `json:"model,omitempty"`
	Provider        string                   `json:"provider,omitempty"`
	Usage           map[string]int           `json:"usage,omitempty"`
}

type Research struct {
	search   Searcher
	ingester Ingester
	answerer Answerer
	comparer Comparer
}

func NewResearch(search Searcher, ingester Ingester, answerer Answerer, comparer Comparer) *Research {
	return &Research{search: search, ingester: ingester, answerer: answerer, comparer: comparer}
}

// Run executes every step in-process. Ingestion failures are recorded and
// do not stop the run.
func (r *Research) Run(ctx context.Context, req ResearchRequest) (ResearchResult, error) {
	filter, err := ResearchFilter(req)
	if err != nil {
		return ResearchResult{}, err
	}
	hits, err := r.Discover(ctx, req)
	if err != nil {
		return ResearchResult{}, err
	}
	log.Info().Int("question_len", len(req.Question)).Int("hits", len(hits)).Msg("research started")

	var res ResearchResult
	for _, h := range hits {
		f, err := r.ingester.IngestFiling(ctx, HitRequest(h))
		if err != nil {
			log.Warn().Err(err).Str("accession", h.AccessionNumber).Msg("research ingest failed")
			res.Failures = append(res.Failures, Failure{AccessionNumber: h.AccessionNumber, Error: err.Error()})
			continue
		}
		res.IngestedFilings = append(res.IngestedFilings, Ingested(f))
	}

	ans, err := r.Answer(ctx, req, filter)
	if err != nil {
		return ResearchResult{}, err
	}
	res.Answer, res.Sources = ans.Answer, ans.Sources
	res.Model, res.Provider, res.Usage = ans.Model, ans.Provider, ans.Usage
	res.References = References(ans.Sources)

	if req.IncludeCompare && len(res.IngestedFilings) >= 2 {
		cmp, err := r.comparer.Compare(ctx, CompareRequest{
			AccessionA:  res.IngestedFilings[0].AccessionNumber,
			AccessionB:  res.IngestedFilings[1].AccessionNumber,
			FocusTopic:  req.Question,
			Provider:    req.Provider,
			APIKey:      req.APIKey,
			EmbedAPIKey: req.EmbedAPIKey,
		})
		if err != nil {
			return ResearchResult{}, err
		}
		res.Comparison = &cmp
	}
	if res.IngestedFilings == nil {
		res.IngestedFilings = []IngestedFiling{}
	}
	return res, nil
}

// Discover searches EDGAR and drops hits without an accession number.
func (r *Research) Discover(ctx context.Context, req ResearchRequest) ([]edgar.SearchHit, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", util.ErrValidation)
	}
	count := req.MaxResults
	if count <= 0 {
		count = DefaultMaxResults
	}
	hits, err := r.search.SearchFilings(ctx, edgar.SearchQuery{
		Query:     req.Question,
		Count:     count,
		FormTypes: req.FormTypes,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
	})
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if strings.TrimSpace(h.AccessionNumber) != "" {
			out = append(out, h)
		}
	}
	return out, nil
}

// Answer queries the index restricted by the research filter.
func (r *Research) Answer(ctx context.Context, req ResearchRequest, filter vector.Filter) (rag.Answer, error) {
	return r.answerer.Query(ctx, rag.QueryRequest{
		Question:      req.Question,
		Temperature:   0.7,
		TopK:          researchTopK,
		ContextWindow: researchContextChars,
		Filter:        filter,
		Provider:      req.Provider,
		APIKey:        req.APIKey,
		EmbedAPIKey:   req.EmbedAPIKey,
	})
}

// ResearchFilter restricts retrieval to SEC filings; a form type is only
// applied when exactly one was requested.
func ResearchFilter(req ResearchRequest) (vector.Filter, error) {
	f := vector.Filter{SourceType: models.SourceSECFiling}
	if len(req.FormTypes) == 1 {
		f.FormType = req.FormTypes[0]
	}
	if req.DateFrom != "" {
		t, ok := vector.ParseFiledDate(req.DateFrom)
		if !ok {
			return vector.Filter{}, fmt.Errorf("%w: date_from %q is not YYYY-MM-DD", util.ErrValidation, req.DateFrom)
		}
		f.FiledFrom = &t
	}
	if req.DateTo != "" {
		t, ok := vector.ParseFiledDate(req.DateTo)
		if !ok {
			return vector.Filter{}, fmt.Errorf("%w: date_to %q is not YYYY-MM-DD", util.ErrValidation, req.DateTo)
		}
		f.FiledTo = &t
	}
	return f, nil
}

func HitRequest(h edgar.SearchHit) ingest.Request {
	return ingest.Request{
		CIK:             h.CIK,
		AccessionNumber: h.AccessionNumber,
		FormType:        h.FormType,
		FiledDate:       h.FiledDate,
		CompanyName:     h.CompanyName,
		FilingURL:       h.FilingURL,
	}
}

func Ingested(f models.Filing) IngestedFiling {
	out := IngestedFiling{AccessionNumber: f.AccessionNumber, FormType: f.FormType, DocumentID: f.DocumentID}
	if f.FiledDate != nil {
		out.FiledDate = f.FiledDate.Format("2006-01-02")
	}
	return out
}

// References collects accession numbers cited inside the retrieved chunks.
func References(sources []rag.Source) []filings.CrossReference {
	out := []filings.CrossReference{}
	for _, s := range sources {
		out = append(out, filings.ExtractReferences(s.Content, filings.DefaultReferenceWindow)...)
	}
	return out
}
