// Package ingest turns SEC filings and uploaded files into indexed chunks.
//
// A filing passes through discovered → downloading → indexing → indexed.
// There is no rollback: a failure part way leaves the rows written so far,
// keeps the filing at its last status and marks the document failed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edgarrag/internal/chunking"
	"edgarrag/internal/docparse"
	"edgarrag/internal/edgar"
	"edgarrag/internal/filings"
	"edgarrag/internal/models"
	"edgarrag/internal/providers"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	FilingChunkSize    = 1200
	FilingChunkOverlap = 200
)

var tracer = otel.Tracer("edgarrag/ingest")

type CompanyStore interface {
	Upsert(ctx context.Context, cik, name string) (models.Company, error)
}

type FilingStore interface {
	GetByAccession(ctx context.Context, accession string) (*models.Filing, error)
	Upsert(ctx context.Context, f models.Filing) (models.Filing, error)
	UpdateStatus(ctx context.Context, id, status string) error
	MarkIndexed(ctx context.Context, id, documentID string) (models.Filing, error)
}

type DocumentStore interface {
	Create(ctx context.Context, d models.Document) (models.Document, error)
	UpdateStatus(ctx context.Context, id, status string, chunksCount int, errMsg string) error
	Get(ctx context.Context, id string) (models.Document, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// FilingSource downloads the primary document of a filing.
type FilingSource interface {
	PrimaryDocument(ctx context.Context, cik, accession string) (string, error)
}

type Embedders interface {
	Embedding(name, apiKey string) (providers.EmbeddingProvider, error)
}

type Deps struct {
	Companies CompanyStore
	Filings   FilingStore
	Documents DocumentStore
	Source    FilingSource
	Embedders Embedders
	Index     vector.Index
}

type Orchestrator struct {
	deps Deps

	// Defaults for uploaded documents.
	ChunkSize    int
	ChunkOverlap int
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, ChunkSize: chunking.DefaultSize, ChunkOverlap: chunking.DefaultOverlap}
}

type Request struct {
	CIK             string `json:"cik"`
	AccessionNumber string `json:"accession_number"`
	FormType        string `json:"form_type"`
	// FiledDate is YYYY-MM-DD; empty means today (UTC).
	FiledDate   string `json:"filed_date,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	FilingURL   string `json:"filing_url,omitempty"`
}

// IngestFiling downloads, sections, chunks, embeds and indexes one filing.
// A filing already indexed is returned unchanged.
func (o *Orchestrator) IngestFiling(ctx context.Context, req Request) (models.Filing, error) {
	accession, err := edgar.SanitizeAccession(req.AccessionNumber)
	if err != nil {
		return models.Filing{}, err
	}
	if strings.TrimSpace(req.CIK) == "" {
		return models.Filing{}, fmt.Errorf("%w: cik is required", util.ErrValidation)
	}
	filed, err := parseFiledDate(req.FiledDate)
	if err != nil {
		return models.Filing{}, err
	}
	cik := edgar.PadCIK(req.CIK)

	ctx, span := tracer.Start(ctx, "ingest.filing", trace.WithAttributes(
		attribute.String("cik", cik),
		attribute.String("accession_number", accession),
		attribute.String("form_type", req.FormType),
	))
	defer span.End()

	company, err := o.deps.Companies.Upsert(ctx, cik, strings.TrimSpace(req.CompanyName))
	if err != nil {
		return models.Filing{}, fail(span, fmt.Errorf("%w: upsert company %s: %w", util.ErrIngestion, cik, err))
	}
	existing, err := o.deps.Filings.GetByAccession(ctx, accession)
	if err != nil {
		return models.Filing{}, fail(span, fmt.Errorf("%w: %w", util.ErrIngestion, err))
	}
	if existing != nil && existing.Status == models.FilingIndexed {
		log.Info().Str("accession", accession).Msg("filing already indexed")
		span.SetAttributes(attribute.Bool("already_indexed", true))
		return *existing, nil
	}

	filing, err := o.deps.Filings.Upsert(ctx, models.Filing{
		CompanyID:       company.ID,
		AccessionNumber: accession,
		FormType:        req.FormType,
		FiledDate:       &filed,
		FilingURL:       req.FilingURL,
	})
	if err != nil {
		return models.Filing{}, fail(span, fmt.Errorf("%w: upsert filing %s: %w", util.ErrIngestion, accession, err))
	}

	// a failure past this point leaves the filing in downloading or indexing;
	// the owning job records the error and a retry resumes from the upsert
	out, err := o.indexFiling(ctx, filing, cik, filed)
	if err != nil {
		return models.Filing{}, fail(span, fmt.Errorf("%w: %s: %w", util.ErrIngestion, accession, err))
	}
	return out, nil
}

func (o *Orchestrator) indexFiling(ctx context.Context, filing models.Filing, cik string, filed time.Time) (models.Filing, error) {
	accession := filing.AccessionNumber
	if err := o.deps.Filings.UpdateStatus(ctx, filing.ID, models.FilingDownloading); err != nil {
		return models.Filing{}, err
	}

	dctx, dspan := tracer.Start(ctx, "ingest.download")
	html, err := o.deps.Source.PrimaryDocument(dctx, cik, accession)
	dspan.End()
	if err != nil {
		return models.Filing{}, fmt.Errorf("download: %w", err)
	}

	_, pspan := tracer.Start(ctx, "ingest.parse")
	sections := filings.ExtractSections(filings.HTMLToText(html))
	pspan.SetAttributes(attribute.Int("sections", len(sections)))
	pspan.End()

	doc, err := o.deps.Documents.Create(ctx, models.Document{
		Filename: accession + ".html",
		FileSize: int64(len(html)),
		FileType: models.SourceSECFiling,
		Status:   models.DocumentProcessing,
		Metadata: map[string]any{
			"cik":              cik,
			"accession_number": accession,
			"form_type":        filing.FormType,
			"sha256":           util.SHA256Hex([]byte(html)),
		},
	})
	if err != nil {
		return models.Filing{}, err
	}
	if err := o.deps.Filings.UpdateStatus(ctx, filing.ID, models.FilingIndexing); err != nil {
		return models.Filing{}, err
	}

	var chunks []chunking.Chunk
	for _, s := range sections {
		chunks = append(chunks, chunking.Split(s.Content, chunking.Options{
			Size:     FilingChunkSize,
			Overlap:  FilingChunkOverlap,
			Strategy: chunking.StrategySentence,
			Metadata: map[string]any{
				vector.MetaSourceType:      models.SourceSECFiling,
				vector.MetaFormType:        filing.FormType,
				vector.MetaCIK:             cik,
				vector.MetaAccessionNumber: accession,
				vector.MetaFiledDate:       filed.Format("2006-01-02"),
				vector.MetaSection:         s.Title,
			},
		})...)
	}
	n, err := o.embedAndIndex(ctx, doc.ID, chunks)
	if err != nil {
		o.markDocumentFailed(ctx, doc.ID, err)
		return models.Filing{}, err
	}
	if err := o.deps.Documents.UpdateStatus(ctx, doc.ID, models.DocumentCompleted, n, ""); err != nil {
		return models.Filing{}, err
	}
	out, err := o.deps.Filings.MarkIndexed(ctx, filing.ID, doc.ID)
	if err != nil {
		return models.Filing{}, err
	}
	log.Info().Str("accession", accession).Str("document_id", doc.ID).Int("chunks", n).Msg("filing indexed")
	return out, nil
}

type Upload struct {
	Filename     string
	ContentType  string
	Content      []byte
	ChunkSize    int
	ChunkOverlap int
}

// IngestDocument indexes an uploaded file. The document row is created
// before parsing so that a parse failure is recorded against it.
func (o *Orchestrator) IngestDocument(ctx context.Context, up Upload) (models.Document, error) {
	name := strings.TrimSpace(up.Filename)
	if name == "" {
		return models.Document{}, fmt.Errorf("%w: filename is required", util.ErrValidation)
	}
	if len(up.Content) == 0 {
		return models.Document{}, fmt.Errorf("%w: %s is empty", util.ErrValidation, name)
	}
	ctx, span := tracer.Start(ctx, "ingest.document", trace.WithAttributes(
		attribute.String("filename", name),
		attribute.Int("bytes", len(up.Content)),
	))
	defer span.End()

	kind := docparse.Detect(name, up.ContentType)
	doc, err := o.deps.Documents.Create(ctx, models.Document{
		Filename: name,
		FileSize: int64(len(up.Content)),
		FileType: string(kind),
		Status:   models.DocumentProcessing,
		Metadata: map[string]any{
			"filename":     name,
			"content_type": up.ContentType,
			"sha256":       util.SHA256Hex(up.Content),
		},
	})
	if err != nil {
		return models.Document{}, fail(span, fmt.Errorf("%w: create document: %w", util.ErrIngestion, err))
	}

	text, _, err := docparse.Parse(name, up.ContentType, up.Content)
	if err != nil {
		o.markDocumentFailed(ctx, doc.ID, err)
		return models.Document{}, fail(span, err)
	}
	size, overlap := up.ChunkSize, up.ChunkOverlap
	if size <= 0 {
		size = o.ChunkSize
	}
	if overlap < 0 {
		overlap = o.ChunkOverlap
	}
	chunks := chunking.Split(text, chunking.Options{
		Size:     size,
		Overlap:  overlap,
		Strategy: chunking.StrategySentence,
		Metadata: map[string]any{
			vector.MetaSourceType: models.SourceDocument,
			"filename":            name,
		},
	})
	n, err := o.embedAndIndex(ctx, doc.ID, chunks)
	if err != nil {
		o.markDocumentFailed(ctx, doc.ID, err)
		return models.Document{}, fail(span, fmt.Errorf("%w: %s: %w", util.ErrIngestion, name, err))
	}
	if err := o.deps.Documents.UpdateStatus(ctx, doc.ID, models.DocumentCompleted, n, ""); err != nil {
		return models.Document{}, fail(span, fmt.Errorf("%w: %w", util.ErrIngestion, err))
	}
	doc.Status = models.DocumentCompleted
	doc.ChunksCount = n
	log.Info().Str("document_id", doc.ID).Str("filename", name).Int("chunks", n).Msg("document indexed")
	return doc, nil
}

// DeleteDocument removes a document row and its chunks from the index.
// It reports false when the document does not exist.
func (o *Orchestrator) DeleteDocument(ctx context.Context, id string) (bool, error) {
	doc, err := o.deps.Documents.Get(ctx, id)
	if errors.Is(err, util.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if doc.ChunksCount > 0 {
		ids := make([]string, 0, doc.ChunksCount)
		for i := 0; i < doc.ChunksCount; i++ {
			ids = append(ids, ChunkID(doc.ID, i))
		}
		if _, err := o.deps.Index.Delete(ctx, ids); err != nil {
			return false, fmt.Errorf("delete chunks of %s: %w", id, err)
		}
	}
	return o.deps.Documents.Delete(ctx, id)
}

// ChunkID is the index identifier of the i-th chunk of a document.
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, i)
}

// embedAndIndex embeds every chunk in a single batch and adds them to the
// index under {documentID}_chunk_{i}.
func (o *Orchestrator) embedAndIndex(ctx context.Context, documentID string, chunks []chunking.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, util.ErrNoExtractableText
	}
	ctx, span := tracer.Start(ctx, "ingest.embed_index", trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	defer span.End()

	embedder, err := o.deps.Embedders.Embedding("", "")
	if err != nil {
		return 0, err
	}
	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Content
	}
	vecs, info, err := embedder.Embed(ctx, providers.EmbedRequest{Inputs: inputs})
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}
	span.SetAttributes(attribute.String("embed_model", info.Model))

	docs := make([]vector.Document, len(chunks))
	for i, c := range chunks {
		md := make(map[string]any, len(c.Metadata)+2)
		for k, v := range c.Metadata {
			md[k] = v
		}
		md[vector.MetaDocumentID] = documentID
		md[vector.MetaChunkIndex] = i
		docs[i] = vector.Document{ID: ChunkID(documentID, i), Content: c.Content, Metadata: md, Embedding: vecs[i]}
	}
	if _, err := o.deps.Index.Add(ctx, docs); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return len(docs), nil
}

func (o *Orchestrator) markDocumentFailed(ctx context.Context, id string, cause error) {
	if err := o.deps.Documents.UpdateStatus(context.WithoutCancel(ctx), id, models.DocumentFailed, 0, cause.Error()); err != nil {
		log.Error().Err(err).Str("document_id", id).Msg("mark document failed")
	}
}

func parseFiledDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, ok := vector.ParseFiledDate(s)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: filed_date %q is not YYYY-MM-DD", util.ErrValidation, s)
	}
	return t, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
