package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"edgarrag/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGVectorIndex stores chunks in the document_chunks table and ranks by
// cosine distance. Filter fields map onto indexed columns.
type PGVectorIndex struct {
	q Conn
}

func NewPGVectorIndex(q Conn) *PGVectorIndex {
	return &PGVectorIndex{q: q}
}

func (s *PGVectorIndex) Add(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if err := validateDocuments(docs); err != nil {
		return nil, err
	}
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx add chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		var filed any
		if t, ok := ParseFiledDate(MetaString(meta, MetaFiledDate)); ok {
			filed = t
		}
		chunkIndex, _ := MetaInt(meta, MetaChunkIndex)
		_, err := tx.Exec(ctx, `
INSERT INTO document_chunks (id, document_id, chunk_index, content, content_preview, embedding,
  source_type, form_type, cik, accession_number, filed_date, filing_section, chunk_metadata)
VALUES ($1, NULLIF($2,''), $3, $4, $5, $6::vector, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), $11, NULLIF($12,''), $13::jsonb)
ON CONFLICT (id)
DO UPDATE SET
  content = EXCLUDED.content,
  content_preview = EXCLUDED.content_preview,
  embedding = EXCLUDED.embedding,
  source_type = EXCLUDED.source_type,
  form_type = EXCLUDED.form_type,
  cik = EXCLUDED.cik,
  accession_number = EXCLUDED.accession_number,
  filed_date = EXCLUDED.filed_date,
  filing_section = EXCLUDED.filing_section,
  chunk_metadata = EXCLUDED.chunk_metadata`,
			d.ID, MetaString(meta, MetaDocumentID), chunkIndex, d.Content, util.DisplaySnippet(d.Content, 200),
			pgvector.NewVector(d.Embedding),
			MetaString(meta, MetaSourceType), MetaString(meta, MetaFormType), MetaString(meta, MetaCIK),
			MetaString(meta, MetaAccessionNumber), filed, MetaString(meta, MetaSection), meta,
		)
		if err != nil {
			return nil, fmt.Errorf("upsert chunk %s: %w", d.ID, err)
		}
		ids = append(ids, d.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chunks tx: %w", err)
	}
	return ids, nil
}

func (s *PGVectorIndex) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	where, args := pgFilter(filter, []any{pgvector.NewVector(query), topK})
	sql := `
SELECT id, content, chunk_metadata, 1 - (embedding <=> $1::vector) AS score
FROM document_chunks
WHERE embedding IS NOT NULL` + where + `
ORDER BY embedding <=> $1::vector, id
LIMIT $2`

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, topK)
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("scan chunk result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	sortResults(results)
	return results, nil
}

// pgFilter appends AND clauses for every set filter field. Placeholders
// continue after the args already present.
func pgFilter(f Filter, args []any) (string, []any) {
	var b strings.Builder
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, " AND "+clause, len(args))
	}
	if v := strings.TrimSpace(f.SourceType); v != "" {
		add("source_type = $%d", v)
	}
	if v := strings.TrimSpace(f.FormType); v != "" {
		add("form_type = $%d", v)
	}
	if v := strings.TrimSpace(f.CIK); v != "" {
		add("cik = $%d", v)
	}
	if v := strings.TrimSpace(f.AccessionNumber); v != "" {
		add("accession_number = $%d", v)
	}
	if v := strings.TrimSpace(f.DocumentID); v != "" {
		add("document_id = $%d", v)
	}
	if f.FiledFrom != nil {
		add("filed_date >= $%d::date", truncateDay(*f.FiledFrom))
	}
	if f.FiledTo != nil {
		add("filed_date <= $%d::date", truncateDay(*f.FiledTo))
	}
	if len(f.Where) > 0 {
		raw, _ := json.Marshal(f.Where)
		add("chunk_metadata @> $%d::jsonb", string(raw))
	}
	return b.String(), args
}

func (s *PGVectorIndex) Delete(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM document_chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGVectorIndex) GetByID(ctx context.Context, id string) (*Document, error) {
	var d Document
	var emb *string
	err := s.q.QueryRow(ctx, `
SELECT id, content, chunk_metadata, embedding::text
FROM document_chunks
WHERE id=$1`, id).Scan(&d.ID, &d.Content, &d.Metadata, &emb)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	if emb != nil {
		var v pgvector.Vector
		if err := v.Scan(*emb); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", id, err)
		}
		d.Embedding = v.Slice()
	}
	return &d, nil
}

func (s *PGVectorIndex) Clear(ctx context.Context) (bool, error) {
	if _, err := s.q.Exec(ctx, `DELETE FROM document_chunks`); err != nil {
		return false, fmt.Errorf("clear chunks: %w", err)
	}
	return true, nil
}

func (s *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT count(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
