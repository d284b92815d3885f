package storage

import (
	"context"
	"fmt"

	"edgarrag/internal/models"

	"github.com/google/uuid"
)

// QueryRepo is the question audit log.
type QueryRepo struct {
	db *DB
}

func NewQueryRepo(db *DB) *QueryRepo {
	return &QueryRepo{db: db}
}

func (r *QueryRepo) Insert(ctx context.Context, rec models.QueryRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO queries (id, question, answer, sources_count, latency_ms, model, provider, tokens_used, error_message)
VALUES ($1::uuid, $2, NULLIF($3,''), $4, $5, NULLIF($6,''), NULLIF($7,''), $8, NULLIF($9,''))`,
		rec.ID, rec.Question, rec.Answer, rec.SourcesCount, rec.LatencyMS, rec.Model, rec.Provider, rec.TokensUsed, rec.ErrorMessage)
	if err != nil {
		return "", fmt.Errorf("insert query: %w", err)
	}
	return rec.ID, nil
}

func (r *QueryRepo) List(ctx context.Context, limit, offset int) ([]models.QueryRecord, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.db.Pool.Query(ctx, `
SELECT id::text, question, COALESCE(answer,''), sources_count, COALESCE(latency_ms,0), COALESCE(model,''),
       COALESCE(provider,''), tokens_used, COALESCE(error_message,''), created_at
FROM queries
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()
	out := make([]models.QueryRecord, 0, limit)
	for rows.Next() {
		var q models.QueryRecord
		if err := rows.Scan(&q.ID, &q.Question, &q.Answer, &q.SourcesCount, &q.LatencyMS, &q.Model,
			&q.Provider, &q.TokensUsed, &q.ErrorMessage, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queries: %w", err)
	}
	return out, nil
}
