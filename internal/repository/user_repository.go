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

const userColumns = `id, email, full_name, role, plan, company_id, storage_allocated, storage_used, allocated_to_users, active, created_at, updated_at`

// UserRepository provides database access for users and their quota counters.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// Totals returns the live size and count of the user's completed, non-deleted files.
func (r *UserRepository) Totals(ctx context.Context, userID string) (models.UserTotals, error) {
	const query = `SELECT COALESCE(SUM(size), 0) AS used, COUNT(*) AS file_count FROM files WHERE uploaded_by = $1 AND upload_status = 'completed' AND is_deleted = FALSE`
	var totals models.UserTotals
	if err := r.db.GetContext(ctx, &totals, query, userID); err != nil {
		return totals, fmt.Errorf("user totals: %w", err)
	}
	return totals, nil
}

// ListByCompany returns company members ordered by email with a total count.
func (r *UserRepository) ListByCompany(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE company_id = $1`
	args := []interface{}{filter.CompanyID}
	if filter.Role != nil {
		baseQuery += ` AND role = $2`
		args = append(args, *filter.Role)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY email ASC LIMIT %d OFFSET %d", userColumns, baseQuery, pageSize, offset)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list company users: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count company users: %w", err)
	}
	return users, total, nil
}

// MemberUsage returns every member of a company with their completed file count.
func (r *UserRepository) MemberUsage(ctx context.Context, companyID string) ([]models.MemberUsage, error) {
	const query = `SELECT u.id, u.email, u.full_name, u.role, u.storage_allocated, u.storage_used, u.allocated_to_users,
COUNT(f.id) AS file_count
FROM users u
LEFT JOIN files f ON f.uploaded_by = u.id AND f.upload_status = 'completed' AND f.is_deleted = FALSE
WHERE u.company_id = $1
GROUP BY u.id
ORDER BY u.role ASC, u.email ASC`
	var members []models.MemberUsage
	if err := r.db.SelectContext(ctx, &members, query, companyID); err != nil {
		return nil, fmt.Errorf("member usage: %w", err)
	}
	return members, nil
}

// insertUser writes a new user row through db or an open transaction.
func insertUser(ctx context.Context, ext sqlx.ExtContext, user *models.User, now time.Time) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Plan == "" {
		user.Plan = models.PlanFree
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, email, full_name, role, plan, company_id, storage_allocated, storage_used, allocated_to_users, active, created_at, updated_at) VALUES (:id, :email, :full_name, :role, :plan, :company_id, :storage_allocated, :storage_used, :allocated_to_users, :active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, user); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
