package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schemaSQL string

// hnsw indexes are limited to 2000 dimensions.
const maxIndexedDim = 2000

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// EnsureSchema creates every table the service needs. It is safe to run on
// each start.
func (d *DB) EnsureSchema(ctx context.Context, embedDim int) error {
	if embedDim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", embedDim)
	}
	sql := strings.ReplaceAll(schemaSQL, "__EMBED_DIM__", strconv.Itoa(embedDim))
	if _, err := d.Pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if embedDim <= maxIndexedDim {
		if _, err := d.Pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)`); err != nil {
			return fmt.Errorf("create embedding index: %w", err)
		}
	} else {
		log.Warn().Int("dim", embedDim).Msg("embedding dimension too large for hnsw; searches will scan")
	}
	return nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}
