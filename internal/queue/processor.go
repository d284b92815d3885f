package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edgarrag/internal/ingest"
	"edgarrag/internal/models"

	"github.com/rs/zerolog/log"
)

type Jobs interface {
	ClaimNextPending(ctx context.Context) (*models.IngestionJob, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
}

type Ingester interface {
	IngestFiling(ctx context.Context, req ingest.Request) (models.Filing, error)
}

type Processor struct {
	jobs     Jobs
	ingester Ingester
}

func NewProcessor(jobs Jobs, ingester Ingester) *Processor {
	return &Processor{jobs: jobs, ingester: ingester}
}

// ProcessNext claims and runs one pending job. It reports false when the
// queue was empty. A failed ingestion is recorded on the job and is not
// returned as an error.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.jobs.ClaimNextPending(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	logger := log.With().Str("job_id", job.ID).Str("accession", job.AccessionNumber).Int("attempt", job.Attempts).Logger()
	logger.Info().Msg("ingestion job claimed")

	req := ingest.Request{
		CIK:             job.CIK,
		AccessionNumber: job.AccessionNumber,
		FormType:        job.FormType,
		CompanyName:     job.CompanyName,
		FilingURL:       job.FilingURL,
	}
	if job.FiledDate != nil {
		req.FiledDate = job.FiledDate.Format("2006-01-02")
	}

	// Job bookkeeping must land even when ctx is being cancelled.
	markCtx := context.WithoutCancel(ctx)
	if _, err := p.ingester.IngestFiling(ctx, req); err != nil {
		logger.Error().Err(err).Msg("ingestion job failed")
		if merr := p.jobs.MarkFailed(markCtx, job.ID, err.Error()); merr != nil {
			logger.Error().Err(merr).Msg("mark job failed")
		}
		return true, nil
	}
	if err := p.jobs.MarkCompleted(markCtx, job.ID); err != nil {
		logger.Error().Err(err).Msg("mark job completed")
	}
	logger.Info().Msg("ingestion job completed")
	return true, nil
}

// Worker drains the queue, sleeping PollInterval whenever it is idle.
type Worker struct {
	Processor    *Processor
	PollInterval time.Duration
}

func (w *Worker) Run(ctx context.Context) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	log.Info().Dur("poll_interval", interval).Msg("ingestion worker started")
	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("ingestion worker stopped")
			return nil
		}
		processed, err := w.Processor.ProcessNext(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("process next job")
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("ingestion worker stopped")
			return nil
		case <-time.After(interval):
		}
	}
}
