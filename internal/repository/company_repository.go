package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/filevault-api/internal/models"
)

const companyColumns = `id, name, owner_id, total_storage, used_storage, allocated_to_users, user_count, is_active, created_at, updated_at`

// CompanyRepository reads tenants. Creation and counter mutations go through LedgerRepository.
type CompanyRepository struct {
	db *sqlx.DB
}

// NewCompanyRepository constructs a CompanyRepository.
func NewCompanyRepository(db *sqlx.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// FindByID returns a company by identifier.
func (r *CompanyRepository) FindByID(ctx context.Context, id string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1 LIMIT 1`
	var company models.Company
	if err := r.db.GetContext(ctx, &company, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find company: %w", err)
	}
	return &company, nil
}

// ListActiveIDs returns the ids of every active company.
func (r *CompanyRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM companies WHERE is_active = TRUE ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list company ids: %w", err)
	}
	return ids, nil
}

// insertCompany writes a new tenant row through db or an open transaction.
func insertCompany(ctx context.Context, ext sqlx.ExtContext, company *models.Company, now time.Time) error {
	if company.ID == "" {
		company.ID = uuid.NewString()
	}
	if company.TotalStorage < models.MinCompanyStorage {
		company.TotalStorage = models.MinCompanyStorage
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = now
	}
	company.UpdatedAt = now

	const query = `INSERT INTO companies (id, name, owner_id, total_storage, used_storage, allocated_to_users, user_count, is_active, created_at, updated_at) VALUES (:id, :name, :owner_id, :total_storage, :used_storage, :allocated_to_users, :user_count, :is_active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, company); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create company: %w", err)
	}
	return nil
}
