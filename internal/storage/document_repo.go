package storage

import (
	"context"
	"errors"
	"fmt"

	"edgarrag/internal/models"
	"edgarrag/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id::text, filename, file_size, COALESCE(file_type,''), status, chunks_count,
       COALESCE(error_message,''), metadata, created_at, updated_at`

func scanDocument(row pgx.Row) (models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.Filename, &d.FileSize, &d.FileType, &d.Status, &d.ChunksCount,
		&d.ErrorMessage, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *DocumentRepo) Create(ctx context.Context, d models.Document) (models.Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DocumentProcessing
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	out, err := scanDocument(r.db.Pool.QueryRow(ctx, `
INSERT INTO documents (id, filename, file_size, file_type, status, metadata)
VALUES ($1::uuid, $2, $3, NULLIF($4,''), $5, $6::jsonb)
RETURNING `+documentColumns,
		d.ID, d.Filename, d.FileSize, d.FileType, d.Status, d.Metadata))
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return out, nil
}

// UpdateStatus records the processing outcome. errMsg is cleared when empty.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, id, status string, chunksCount int, errMsg string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents
SET status=$2, chunks_count=$3, error_message=NULLIF($4,''), updated_at=NOW()
WHERE id=$1::uuid`, id, status, chunksCount, errMsg)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (models.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Document{}, fmt.Errorf("%w: document id %q", util.ErrValidation, id)
	}
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := make([]models.Document, 0, limit)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id=$1::uuid`, id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Counts returns the number of documents and of chunk rows held in Postgres.
func (r *DocumentRepo) Counts(ctx context.Context) (docs int, chunks int, err error) {
	err = r.db.Pool.QueryRow(ctx, `
SELECT (SELECT count(*) FROM documents), (SELECT count(*) FROM document_chunks)`).Scan(&docs, &chunks)
	if err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}
	return docs, chunks, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
