package storage

import (
	"context"
	"fmt"

	"edgarrag/internal/models"

	"github.com/google/uuid"
)

type CompanyRepo struct {
	db *DB
}

func NewCompanyRepo(db *DB) *CompanyRepo {
	return &CompanyRepo{db: db}
}

// Upsert returns the company for cik, creating it if needed. A stored name
// is never overwritten; name only fills an unknown one.
func (r *CompanyRepo) Upsert(ctx context.Context, cik, name string) (models.Company, error) {
	var c models.Company
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO sec_companies (id, cik, company_name)
VALUES ($1::uuid, $2, NULLIF($3,''))
ON CONFLICT (cik)
DO UPDATE SET company_name = COALESCE(NULLIF(sec_companies.company_name,''), EXCLUDED.company_name)
RETURNING id::text, cik, COALESCE(company_name,''), created_at`,
		uuid.NewString(), cik, name).Scan(&c.ID, &c.CIK, &c.Name, &c.CreatedAt)
	if err != nil {
		return models.Company{}, fmt.Errorf("upsert company %s: %w", cik, err)
	}
	return c, nil
}
