package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"edgarrag/internal/models"
	"edgarrag/internal/providers"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"
)

type memStore struct {
	mu        sync.Mutex
	companies map[string]models.Company
	filings   map[string]*models.Filing
	documents map[string]models.Document
	statuses  []string
}

func newMemStore() *memStore {
	return &memStore{
		companies: map[string]models.Company{},
		filings:   map[string]*models.Filing{},
		documents: map[string]models.Document{},
	}
}

type companies struct{ *memStore }

func (s companies) Upsert(ctx context.Context, cik, name string) (models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[cik]
	if !ok {
		c = models.Company{ID: uuid.NewString(), CIK: cik}
	}
	if c.Name == "" {
		c.Name = name
	}
	s.companies[cik] = c
	return c, nil
}

type filingStore struct{ *memStore }

func (s filingStore) GetByAccession(ctx context.Context, acc string) (*models.Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filings[acc]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (s filingStore) Upsert(ctx context.Context, f models.Filing) (models.Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.filings[f.AccessionNumber]; ok {
		return *cur, nil
	}
	f.ID = uuid.NewString()
	f.Status = models.FilingDiscovered
	s.filings[f.AccessionNumber] = &f
	return f, nil
}

func (s filingStore) byID(id string) *models.Filing {
	for _, f := range s.filings {
		if f.ID == id {
			return f
		}
	}
	return nil
}

func (s filingStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.byID(id).Status = status
	return nil
}

func (s filingStore) MarkIndexed(ctx context.Context, id, docID string) (models.Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, models.FilingIndexed)
	f := s.byID(id)
	f.Status = models.FilingIndexed
	f.DocumentID = docID
	return *f, nil
}

type documentStore struct{ *memStore }

func (s documentStore) Create(ctx context.Context, d models.Document) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.NewString()
	s.documents[d.ID] = d
	return d, nil
}

func (s documentStore) UpdateStatus(ctx context.Context, id, status string, n int, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.documents[id]
	d.Status, d.ChunksCount, d.ErrorMessage = status, n, msg
	s.documents[id] = d
	return nil
}

func (s documentStore) Get(ctx context.Context, id string) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	return d, nil
}

func (s documentStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.documents[id]
	delete(s.documents, id)
	return ok, nil
}

type fakeSource struct {
	html  string
	err   error
	calls int
}

func (f *fakeSource) PrimaryDocument(ctx context.Context, cik, acc string) (string, error) {
	f.calls++
	return f.html, f.err
}

type mockEmbedders struct{ err error }

func (m mockEmbedders) Embedding(name, key string) (providers.EmbeddingProvider, error) {
	if m.err != nil {
		return nil, m.err
	}
	return providers.NewMockProvider(16), nil
}

func filingHTML() string {
	body := strings.Repeat("Revenue grew because demand for devices increased across every region. ", 40)
	risk := strings.Repeat("Supply chain disruption could materially affect results. ", 30)
	return "<html><body><p>Item 1. Business</p><p>" + body + "</p><p>Item 1A. Risk Factors</p><p>" + risk + "</p></body></html>"
}

func newTestOrchestrator(t *testing.T, src *fakeSource) (*Orchestrator, *memStore, vector.Index) {
	t.Helper()
	idx, err := vector.NewChromemIndex("", "test")
	require.NoError(t, err)
	st := newMemStore()
	o := New(Deps{
		Companies: companies{st},
		Filings:   filingStore{st},
		Documents: documentStore{st},
		Source:    src,
		Embedders: mockEmbedders{},
		Index:     idx,
	})
	return o, st, idx
}

func TestIngestFilingIndexesSections(t *testing.T) {
	src := &fakeSource{html: filingHTML()}
	o, st, idx := newTestOrchestrator(t, src)
	ctx := context.Background()

	f, err := o.IngestFiling(ctx, Request{CIK: "320193", AccessionNumber: "0000320193-24-000001", FormType: "10-K", FiledDate: "2024-02-01", CompanyName: "Apple"})
	require.NoError(t, err)
	require.Equal(t, models.FilingIndexed, f.Status)
	require.NotEmpty(t, f.DocumentID)
	require.Equal(t, []string{models.FilingDownloading, models.FilingIndexing, models.FilingIndexed}, st.statuses)
	require.Equal(t, "Apple", st.companies["0000320193"].Name)

	doc := st.documents[f.DocumentID]
	require.Equal(t, "0000320193-24-000001.html", doc.Filename)
	require.Equal(t, int64(len(src.html)), doc.FileSize)
	require.Equal(t, models.SourceSECFiling, doc.FileType)
	require.Equal(t, models.DocumentCompleted, doc.Status)
	require.Greater(t, doc.ChunksCount, 2)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, doc.ChunksCount, n)

	first, err := idx.GetByID(ctx, ChunkID(doc.ID, 0))
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "sec_filing", vector.MetaString(first.Metadata, vector.MetaSourceType))
	require.Equal(t, "0000320193", vector.MetaString(first.Metadata, vector.MetaCIK))
	require.Equal(t, "2024-02-01", vector.MetaString(first.Metadata, vector.MetaFiledDate))
	require.Equal(t, "Item 1.", vector.MetaString(first.Metadata, vector.MetaSection))
	require.Equal(t, doc.ID, vector.MetaString(first.Metadata, vector.MetaDocumentID))
	ci, ok := vector.MetaInt(first.Metadata, vector.MetaChunkIndex)
	require.True(t, ok)
	require.Equal(t, 0, ci)
}

func TestIngestFilingIsIdempotent(t *testing.T) {
	src := &fakeSource{html: filingHTML()}
	o, st, idx := newTestOrchestrator(t, src)
	ctx := context.Background()
	req := Request{CIK: "320193", AccessionNumber: "0000320193-24-000001", FormType: "10-K"}

	a, err := o.IngestFiling(ctx, req)
	require.NoError(t, err)
	before, err := idx.Count(ctx)
	require.NoError(t, err)

	b, err := o.IngestFiling(ctx, req)
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, 1, src.calls)
	require.Len(t, st.documents, 1)
	after, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	today := time.Now().UTC().Format("2006-01-02")
	require.Equal(t, today, a.FiledDate.Format("2006-01-02"))
}

func TestIngestFilingRejectsBadInput(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeSource{})
	_, err := o.IngestFiling(context.Background(), Request{CIK: "1", AccessionNumber: "../../etc/passwd"})
	require.ErrorIs(t, err, util.ErrValidation)
	_, err = o.IngestFiling(context.Background(), Request{CIK: "1", AccessionNumber: "0000000001-24-000001", FiledDate: "yesterday"})
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestIngestFilingDownloadFailureLeavesDownloading(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: no primary document", util.ErrNotFound)}
	o, st, _ := newTestOrchestrator(t, src)
	_, err := o.IngestFiling(context.Background(), Request{CIK: "1", AccessionNumber: "0000000001-24-000001", FormType: "8-K"})
	require.ErrorIs(t, err, util.ErrIngestion)
	require.ErrorIs(t, err, util.ErrNotFound)
	require.Equal(t, models.FilingDownloading, st.filings["0000000001-24-000001"].Status)
	require.Empty(t, st.documents)
}

func TestIngestFilingEmbeddingFailureMarksDocumentFailed(t *testing.T) {
	src := &fakeSource{html: filingHTML()}
	o, st, _ := newTestOrchestrator(t, src)
	o.deps.Embedders = mockEmbedders{err: errors.New("quota exceeded")}
	_, err := o.IngestFiling(context.Background(), Request{CIK: "1", AccessionNumber: "0000000001-24-000001"})
	require.ErrorIs(t, err, util.ErrIngestion)
	require.Equal(t, models.FilingIndexing, st.filings["0000000001-24-000001"].Status)
	require.Len(t, st.documents, 1)
	for _, d := range st.documents {
		require.Equal(t, models.DocumentFailed, d.Status)
		require.Contains(t, d.ErrorMessage, "quota exceeded")
	}
}

func TestIngestDocumentAndDelete(t *testing.T) {
	o, st, idx := newTestOrchestrator(t, &fakeSource{})
	ctx := context.Background()
	text := strings.Repeat("Liquidity remained strong through the year. ", 60)

	doc, err := o.IngestDocument(ctx, Upload{Filename: "notes.txt", Content: []byte(text), ChunkSize: 500, ChunkOverlap: 50})
	require.NoError(t, err)
	require.Equal(t, models.DocumentCompleted, doc.Status)
	require.Greater(t, doc.ChunksCount, 1)
	require.Equal(t, util.SHA256Hex([]byte(text)), st.documents[doc.ID].Metadata["sha256"])

	hit, err := idx.GetByID(ctx, ChunkID(doc.ID, 1))
	require.NoError(t, err)
	require.Equal(t, "document", vector.MetaString(hit.Metadata, vector.MetaSourceType))

	ok, err := o.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	ok, err = o.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIngestDocumentEmptyParseMarksFailed(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, &fakeSource{})
	_, err := o.IngestDocument(context.Background(), Upload{Filename: "blank.txt", Content: []byte("   \n ")})
	require.ErrorIs(t, err, util.ErrValidation)
	require.Len(t, st.documents, 1)
	for _, d := range st.documents {
		require.Equal(t, models.DocumentFailed, d.Status)
	}

	_, err = o.IngestDocument(context.Background(), Upload{Filename: "none.txt"})
	require.ErrorIs(t, err, util.ErrValidation)
}
