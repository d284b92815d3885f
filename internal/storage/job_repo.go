package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"edgarrag/internal/models"
	"edgarrag/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// rowQuerier is the single-row slice of *pgxpool.Pool the claim uses.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobRepo is the durable ingestion queue. Jobs are never deleted.
type JobRepo struct {
	db     *DB
	claims rowQuerier
}

func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db, claims: db.Pool}
}

const jobColumns = `id::text, cik, accession_number, form_type, filed_date, COALESCE(company_name,''),
       COALESCE(filing_url,''), status, attempts, COALESCE(error_message,''), created_at, updated_at,
       started_at, finished_at`

func scanJob(row pgx.Row) (models.IngestionJob, error) {
	var j models.IngestionJob
	err := row.Scan(&j.ID, &j.CIK, &j.AccessionNumber, &j.FormType, &j.FiledDate, &j.CompanyName,
		&j.FilingURL, &j.Status, &j.Attempts, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt,
		&j.StartedAt, &j.FinishedAt)
	return j, err
}

func (r *JobRepo) Enqueue(ctx context.Context, j models.IngestionJob) (models.IngestionJob, error) {
	out, err := scanJob(r.db.Pool.QueryRow(ctx, `
INSERT INTO sec_ingestion_jobs (id, cik, accession_number, form_type, filed_date, company_name, filing_url, status)
VALUES ($1::uuid, $2, $3, $4, $5::date, NULLIF($6,''), NULLIF($7,''), $8)
RETURNING `+jobColumns,
		uuid.NewString(), j.CIK, j.AccessionNumber, j.FormType, j.FiledDate, j.CompanyName, j.FilingURL, models.JobPending))
	if err != nil {
		return models.IngestionJob{}, fmt.Errorf("enqueue job: %w", err)
	}
	return out, nil
}

// ClaimNextPending flips the oldest pending job to running in one statement.
// Concurrent claimers skip rows another transaction holds, so a job is
// claimed at most once. Returns nil when nothing is pending.
func (r *JobRepo) ClaimNextPending(ctx context.Context) (*models.IngestionJob, error) {
	j, err := scanJob(r.claims.QueryRow(ctx, `
UPDATE sec_ingestion_jobs
SET status=$1, attempts=attempts+1, started_at=NOW(), updated_at=NOW()
WHERE id = (
  SELECT id FROM sec_ingestion_jobs
  WHERE status=$2
  ORDER BY created_at ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING `+jobColumns, models.JobRunning, models.JobPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id string) error {
	return r.finish(ctx, id, models.JobCompleted, "")
}

func (r *JobRepo) MarkFailed(ctx context.Context, id, message string) error {
	return r.finish(ctx, id, models.JobFailed, message)
}

func (r *JobRepo) finish(ctx context.Context, id, status, message string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE sec_ingestion_jobs
SET status=$2, error_message=NULLIF($3,''), finished_at=NOW(), updated_at=NOW()
WHERE id=$1::uuid`, id, status, message)
	if err != nil {
		return fmt.Errorf("mark job %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", util.ErrNotFound, id)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (models.IngestionJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.IngestionJob{}, fmt.Errorf("%w: job id %q", util.ErrValidation, id)
	}
	j, err := scanJob(r.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sec_ingestion_jobs WHERE id=$1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.IngestionJob{}, fmt.Errorf("%w: job %s", util.ErrNotFound, id)
	}
	if err != nil {
		return models.IngestionJob{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *JobRepo) List(ctx context.Context, status string, limit, offset int) ([]models.IngestionJob, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+jobColumns+`
FROM sec_ingestion_jobs
WHERE ($1::text = '' OR status = $1::text)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, strings.TrimSpace(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	out := make([]models.IngestionJob, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
