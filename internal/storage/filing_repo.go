package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edgarrag/internal/models"
	"edgarrag/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type FilingRepo struct {
	db *DB
}

func NewFilingRepo(db *DB) *FilingRepo {
	return &FilingRepo{db: db}
}

const filingSelect = `
SELECT f.id::text, f.company_id::text, c.cik, f.accession_number, f.form_type, f.filed_date,
       f.filing_url, f.status, COALESCE(f.document_id::text,''), f.created_at, f.updated_at
FROM sec_filings f
JOIN sec_companies c ON c.id = f.company_id`

func scanFiling(row pgx.Row) (models.Filing, error) {
	var f models.Filing
	var filed time.Time
	err := row.Scan(&f.ID, &f.CompanyID, &f.CIK, &f.AccessionNumber, &f.FormType, &filed,
		&f.FilingURL, &f.Status, &f.DocumentID, &f.CreatedAt, &f.UpdatedAt)
	if err == nil {
		f.FiledDate = &filed
	}
	return f, err
}

// GetByAccession returns nil without error when the filing is unknown.
func (r *FilingRepo) GetByAccession(ctx context.Context, accession string) (*models.Filing, error) {
	f, err := scanFiling(r.db.Pool.QueryRow(ctx, filingSelect+` WHERE f.accession_number=$1`, accession))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get filing %s: %w", accession, err)
	}
	return &f, nil
}

// Upsert creates the filing or refreshes its descriptive fields, leaving
// status and document link untouched on an existing row.
func (r *FilingRepo) Upsert(ctx context.Context, f models.Filing) (models.Filing, error) {
	if f.FiledDate == nil {
		now := time.Now().UTC()
		f.FiledDate = &now
	}
	if f.Status == "" {
		f.Status = models.FilingDiscovered
	}
	var id string
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO sec_filings (id, accession_number, company_id, form_type, filed_date, filing_url, status)
VALUES ($1::uuid, $2, $3::uuid, $4, $5::date, $6, $7)
ON CONFLICT (accession_number)
DO UPDATE SET
  form_type = EXCLUDED.form_type,
  filed_date = EXCLUDED.filed_date,
  filing_url = COALESCE(NULLIF(EXCLUDED.filing_url,''), sec_filings.filing_url),
  updated_at = NOW()
RETURNING id::text`,
		uuid.NewString(), f.AccessionNumber, f.CompanyID, f.FormType, *f.FiledDate, f.FilingURL, f.Status).Scan(&id)
	if err != nil {
		return models.Filing{}, fmt.Errorf("upsert filing %s: %w", f.AccessionNumber, err)
	}
	return r.get(ctx, id)
}

func (r *FilingRepo) get(ctx context.Context, id string) (models.Filing, error) {
	f, err := scanFiling(r.db.Pool.QueryRow(ctx, filingSelect+` WHERE f.id=$1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Filing{}, fmt.Errorf("%w: filing %s", util.ErrNotFound, id)
	}
	if err != nil {
		return models.Filing{}, fmt.Errorf("get filing: %w", err)
	}
	return f, nil
}

func (r *FilingRepo) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE sec_filings SET status=$2, updated_at=NOW() WHERE id=$1::uuid`, id, status)
	if err != nil {
		return fmt.Errorf("update filing status: %w", err)
	}
	return nil
}

func (r *FilingRepo) MarkIndexed(ctx context.Context, id, documentID string) (models.Filing, error) {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE sec_filings SET status=$2, document_id=$3::uuid, updated_at=NOW()
WHERE id=$1::uuid`, id, models.FilingIndexed, documentID)
	if err != nil {
		return models.Filing{}, fmt.Errorf("mark filing indexed: %w", err)
	}
	return r.get(ctx, id)
}

// List orders by filed date, newest first. Empty filters match everything.
func (r *FilingRepo) List(ctx context.Context, formType, status string, limit, offset int) ([]models.Filing, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.db.Pool.Query(ctx, filingSelect+`
WHERE ($1::text = '' OR f.form_type = $1::text) AND ($2::text = '' OR f.status = $2::text)
ORDER BY f.filed_date DESC, f.created_at DESC
LIMIT $3 OFFSET $4`, strings.TrimSpace(formType), strings.TrimSpace(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list filings: %w", err)
	}
	defer rows.Close()
	out := make([]models.Filing, 0, limit)
	for rows.Next() {
		f, err := scanFiling(rows)
		if err != nil {
			return nil, fmt.Errorf("scan filing: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filings: %w", err)
	}
	return out, nil
}
