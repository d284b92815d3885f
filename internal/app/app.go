// Package app builds the shared object graph used by both binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"edgarrag/internal/agent"
	"edgarrag/internal/config"
	"edgarrag/internal/edgar"
	"edgarrag/internal/ingest"
	"edgarrag/internal/providers"
	"edgarrag/internal/queue"
	"edgarrag/internal/rag"
	"edgarrag/internal/storage"
	"edgarrag/internal/util"
	"edgarrag/internal/vector"
)

type Services struct {
	DB        *storage.DB
	Index     vector.Index
	Gateways  *providers.Manager
	EDGAR     *edgar.Client
	Documents *storage.DocumentRepo
	Filings   *storage.FilingRepo
	Jobs      *storage.JobRepo
	Queries   *storage.QueryRepo
	Ingest    *ingest.Orchestrator
	Pipeline  *rag.Pipeline
	Comparer  *agent.Comparator
	Research  *agent.Research
	Queue     *queue.Processor
}

// Build connects to Postgres, applies the schema and wires every component.
// The caller owns the returned services and must Close them.
func Build(ctx context.Context, cfg config.Config) (*Services, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := storage.NewDB(dialCtx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(dialCtx, cfg.EmbedDim); err != nil {
		db.Close()
		return nil, err
	}
	idx, err := vector.Open(cfg, db.Pool)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	for _, dir := range []string{cfg.SECCacheDir, cfg.ReportsDir} {
		if err := util.EnsureDir(dir); err != nil {
			db.Close()
			return nil, err
		}
	}

	gw := providers.NewManager(cfg)
	client := edgar.NewClient(edgar.Options{
		UserAgent: cfg.SECUserAgent,
		RateLimit: cfg.SECRateLimit,
		CacheDir:  cfg.SECCacheDir,
	})
	s := &Services{
		DB:        db,
		Index:     idx,
		Gateways:  gw,
		EDGAR:     client,
		Documents: storage.NewDocumentRepo(db),
		Filings:   storage.NewFilingRepo(db),
		Jobs:      storage.NewJobRepo(db),
		Queries:   storage.NewQueryRepo(db),
	}
	s.Ingest = ingest.New(ingest.Deps{
		Companies: storage.NewCompanyRepo(db),
		Filings:   s.Filings,
		Documents: s.Documents,
		Source:    client,
		Embedders: gw,
		Index:     idx,
	})
	s.Ingest.ChunkSize, s.Ingest.ChunkOverlap = cfg.ChunkSize, cfg.ChunkOverlap

	s.Pipeline = rag.NewPipeline(gw, idx)
	s.Pipeline.TopK, s.Pipeline.ContextWindow = cfg.TopK, cfg.ContextWindow
	s.Comparer = agent.NewComparator(gw, idx)
	s.Research = agent.NewResearch(client, s.Ingest, s.Pipeline, s.Comparer)
	s.Queue = queue.NewProcessor(s.Jobs, s.Ingest)
	return s, nil
}

func (s *Services) Close() {
	s.DB.Close()
}
