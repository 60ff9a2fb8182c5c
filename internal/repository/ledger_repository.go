package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/database"
)

var (
	// ErrNotPending is returned when a finalize finds the file already past pending.
	ErrNotPending = errors.New("file is not pending")
	// ErrNotDeletable is returned when a delete finds no completed, live file.
	ErrNotDeletable = errors.New("file is not a completed live file")
	// ErrNotCompanyMember is returned when an allocation targets someone outside the admin's company.
	ErrNotCompanyMember = errors.New("target is not a member of the admin's company")
	// ErrDuplicate is returned when a unique column (company name, user email) is taken.
	ErrDuplicate = errors.New("record already exists")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// CapacityError reports a conditional update that found too little room.
type CapacityError struct {
	Available int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: %d bytes available", e.Available)
}

// ShortfallError reports a company total below what is already committed.
type ShortfallError struct {
	Shortfall int64
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("total is %d bytes below committed capacity", e.Shortfall)
}

// BelowUsageError rejects an allocation smaller than what the member already stores.
type BelowUsageError struct {
	Used int64
}

func (e *BelowUsageError) Error() string {
	return fmt.Sprintf("allocation below current usage of %d bytes", e.Used)
}

// LedgerRepository applies every multi-row quota mutation in a single transaction.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs a LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ApplyCompletedUpload marks the file completed and charges its size to the
// user, company, type and daily counters. The user increment is conditional so
// concurrent finalizes cannot push usage past the allocation.
func (r *LedgerRepository) ApplyCompletedUpload(ctx context.Context, upload models.CompletedUpload) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE files SET upload_status = 'completed', upload_completed_at = $2, etag = $3, size = $4 WHERE id = $1 AND upload_status IN ('pending', 'uploading')`,
			upload.FileID, upload.At, upload.ETag, upload.Size)
		if err != nil {
			return fmt.Errorf("complete file: %w", err)
		}
		if err := expectRow(res, ErrNotPending); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `UPDATE users SET storage_used = storage_used + $2, updated_at = $3 WHERE id = $1 AND storage_used + $2 + CASE WHEN role = 'admin' THEN allocated_to_users ELSE 0 END <= storage_allocated`,
			upload.UserID, upload.Size, upload.At)
		if err != nil {
			return fmt.Errorf("charge user storage: %w", err)
		}
		if err := expectRow(res, nil); err != nil {
			return r.capacityError(ctx, tx, upload.UserID)
		}

		if upload.CompanyID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE companies SET used_storage = used_storage + $2, updated_at = $3 WHERE id = $1`,
				upload.CompanyID, upload.Size, upload.At); err != nil {
				return fmt.Errorf("charge company storage: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO type_usage (user_id, category, file_count, total_size) VALUES ($1, $2, 1, $3)
ON CONFLICT (user_id, category) DO UPDATE SET file_count = type_usage.file_count + 1, total_size = type_usage.total_size + EXCLUDED.total_size`,
			upload.UserID, models.CategoryFor(upload.MimeType), upload.Size); err != nil {
			return fmt.Errorf("record type usage: %w", err)
		}

		day := models.Day(upload.At)
		if _, err := tx.ExecContext(ctx, `INSERT INTO daily_usage (user_id, day, upload_size, upload_count) VALUES ($1, $2, $3, 1)
ON CONFLICT (user_id, day) DO UPDATE SET upload_size = daily_usage.upload_size + EXCLUDED.upload_size, upload_count = daily_usage.upload_count + 1`,
			upload.UserID, day, upload.Size); err != nil {
			return fmt.Errorf("record daily usage: %w", err)
		}
		if _, err := tx.ExecContext(ctx, pruneDailyUsageQuery, upload.UserID, retentionCutoff(day)); err != nil {
			return fmt.Errorf("prune daily usage: %w", err)
		}
		return nil
	})
}

// ApplyDeletedFile soft-deletes a completed file and releases its size, clamping at zero.
func (r *LedgerRepository) ApplyDeletedFile(ctx context.Context, deleted models.DeletedFile) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE files SET is_deleted = TRUE, deleted_at = $2 WHERE id = $1 AND is_deleted = FALSE AND upload_status = 'completed'`,
			deleted.FileID, deleted.At)
		if err != nil {
			return fmt.Errorf("soft delete file: %w", err)
		}
		if err := expectRow(res, ErrNotDeletable); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET storage_used = GREATEST(0, storage_used - $2), updated_at = $3 WHERE id = $1`,
			deleted.UserID, deleted.Size, deleted.At); err != nil {
			return fmt.Errorf("release user storage: %w", err)
		}
		if deleted.CompanyID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE companies SET used_storage = GREATEST(0, used_storage - $2), updated_at = $3 WHERE id = $1`,
				deleted.CompanyID, deleted.Size, deleted.At); err != nil {
				return fmt.Errorf("release company storage: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE type_usage SET file_count = GREATEST(0, file_count - 1), total_size = GREATEST(0, total_size - $3) WHERE user_id = $1 AND category = $2`,
			deleted.UserID, models.CategoryFor(deleted.MimeType), deleted.Size); err != nil {
			return fmt.Errorf("release type usage: %w", err)
		}
		return nil
	})
}

// SetCompanyTotal writes a new company total unless it undercuts committed
// capacity. With cascade, every admin of the company is granted the new total.
func (r *LedgerRepository) SetCompanyTotal(ctx context.Context, companyID string, total int64, cascade bool) (*models.Company, error) {
	var company models.Company
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &company, `SELECT `+companyColumns+` FROM companies WHERE id = $1 FOR UPDATE`, companyID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("lock company: %w", err)
		}
		var admins []models.User
		if err := tx.SelectContext(ctx, &admins, `SELECT `+userColumns+` FROM users WHERE company_id = $1 AND role = 'admin' ORDER BY id FOR UPDATE`, companyID); err != nil {
			return fmt.Errorf("lock company admins: %w", err)
		}

		if committed := models.CommittedCapacity(company, admins); total < committed {
			return &ShortfallError{Shortfall: committed - total}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE companies SET total_storage = $2, updated_at = $3 WHERE id = $1`, companyID, total, now); err != nil {
			return fmt.Errorf("update company total: %w", err)
		}
		if cascade {
			if _, err := tx.ExecContext(ctx, `UPDATE users SET storage_allocated = $2, updated_at = $3 WHERE company_id = $1 AND role = 'admin'`, companyID, total, now); err != nil {
				return fmt.Errorf("cascade admin allocation: %w", err)
			}
		}
		company.TotalStorage = total
		company.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &company, nil
}

// Allocation is the outcome of a sub-allocation change.
type Allocation struct {
	Admin  models.User
	Member models.User
}

// SetUserAllocation sets a member's allocation and moves the difference through
// the admin's and company's allocated_to_users in one transaction.
func (r *LedgerRepository) SetUserAllocation(ctx context.Context, adminID, userID string, bytes int64) (*Allocation, error) {
	var result Allocation
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var rows []models.User
		if err := tx.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users WHERE id = $1 OR id = $2 ORDER BY id FOR UPDATE`, adminID, userID); err != nil {
			return fmt.Errorf("lock allocation users: %w", err)
		}
		var admin, member *models.User
		for i := range rows {
			switch rows[i].ID {
			case adminID:
				admin = &rows[i]
			case userID:
				member = &rows[i]
			}
		}
		if admin == nil || member == nil {
			return sql.ErrNoRows
		}
		if !admin.IsAdmin() || member.Role != models.RoleUser || admin.Company() == "" || admin.Company() != member.Company() {
			return ErrNotCompanyMember
		}
		if bytes < member.StorageUsed {
			return &BelowUsageError{Used: member.StorageUsed}
		}
		delta := bytes - member.StorageAllocated
		if available := admin.Available(); delta > available {
			return &CapacityError{Available: available}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE users SET allocated_to_users = GREATEST(0, allocated_to_users + $2), updated_at = $3 WHERE id = $1`, admin.ID, delta, now); err != nil {
			return fmt.Errorf("update admin allocation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE companies SET allocated_to_users = GREATEST(0, allocated_to_users + $2), updated_at = $3 WHERE id = $1`, admin.Company(), delta, now); err != nil {
			return fmt.Errorf("update company allocation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET storage_allocated = $2, updated_at = $3 WHERE id = $1`, member.ID, bytes, now); err != nil {
			return fmt.Errorf("update member allocation: %w", err)
		}

		admin.AllocatedToUsers += delta
		if admin.AllocatedToUsers < 0 {
			admin.AllocatedToUsers = 0
		}
		member.StorageAllocated = bytes
		result = Allocation{Admin: *admin, Member: *member}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FixAllocations recomputes a company's cached counters from file rows and
// member allocations and overwrites the ones that drifted.
func (r *LedgerRepository) FixAllocations(ctx context.Context, companyID string) (*models.ReconcileReport, error) {
	var report models.ReconcileReport
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var company models.Company
		if err := tx.GetContext(ctx, &company, `SELECT `+companyColumns+` FROM companies WHERE id = $1 FOR UPDATE`, companyID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("lock company: %w", err)
		}
		var members []models.User
		if err := tx.SelectContext(ctx, &members, `SELECT `+userColumns+` FROM users WHERE company_id = $1 ORDER BY created_at, id FOR UPDATE`, companyID); err != nil {
			return fmt.Errorf("lock members: %w", err)
		}

		var sums []struct {
			UserID string `db:"user_id"`
			Used   int64  `db:"used"`
		}
		if err := tx.SelectContext(ctx, &sums, `SELECT f.uploaded_by AS user_id, COALESCE(SUM(f.size), 0) AS used FROM files f JOIN users u ON u.id = f.uploaded_by
WHERE u.company_id = $1 AND f.upload_status = 'completed' AND f.is_deleted = FALSE GROUP BY f.uploaded_by`, companyID); err != nil {
			return fmt.Errorf("sum member usage: %w", err)
		}
		used := make(map[string]int64, len(sums))
		for _, s := range sums {
			used[s.UserID] = s.Used
		}

		before := make(map[string]models.User, len(members))
		for _, m := range members {
			before[m.ID] = m
		}
		report = models.Reconcile(&company, members, used)
		if !report.Drifted {
			return nil
		}

		now := time.Now().UTC()
		for _, m := range members {
			prev := before[m.ID]
			if prev.StorageUsed == m.StorageUsed && prev.AllocatedToUsers == m.AllocatedToUsers {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE users SET storage_used = $2, allocated_to_users = $3, updated_at = $4 WHERE id = $1`,
				m.ID, m.StorageUsed, m.AllocatedToUsers, now); err != nil {
				return fmt.Errorf("repair user counters: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE companies SET used_storage = $2, allocated_to_users = $3, updated_at = $4 WHERE id = $1`,
			company.ID, company.UsedStorage, company.AllocatedToUsers, now); err != nil {
			return fmt.Errorf("repair company counters: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// DeleteCompany removes a tenant; members, files and usage rows cascade.
// It returns the file rows so their objects can be removed from the store.
func (r *LedgerRepository) DeleteCompany(ctx context.Context, companyID string) ([]models.File, error) {
	var files []models.File
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &files, `SELECT `+fileColumns+` FROM files WHERE company_id = $1 FOR UPDATE`, companyID); err != nil {
			return fmt.Errorf("lock company files: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id = $1`, companyID)
		if err != nil {
			return fmt.Errorf("delete company: %w", err)
		}
		return expectRow(res, sql.ErrNoRows)
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ProvisionCompany creates a tenant and its owning admin together. The owner
// is granted the whole pool.
func (r *LedgerRepository) ProvisionCompany(ctx context.Context, company *models.Company, owner *models.User) error {
	now := time.Now().UTC()
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if owner.ID == "" {
			owner.ID = uuid.NewString()
		}
		company.OwnerID = &owner.ID
		company.UserCount = 1
		company.IsActive = true
		if err := insertCompany(ctx, tx, company, now); err != nil {
			return err
		}
		owner.CompanyID = &company.ID
		owner.Role = models.RoleAdmin
		owner.StorageAllocated = company.TotalStorage
		owner.Active = true
		return insertUser(ctx, tx, owner, now)
	})
}

// AddMember inserts a regular user into an active company with no allocation
// and bumps the company's member count.
func (r *LedgerRepository) AddMember(ctx context.Context, member *models.User) error {
	if member.CompanyID == nil {
		return ErrNotCompanyMember
	}
	now := time.Now().UTC()
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE companies SET user_count = user_count + 1, updated_at = $2 WHERE id = $1 AND is_active`, *member.CompanyID, now)
		if err != nil {
			return fmt.Errorf("count company member: %w", err)
		}
		if err := expectRow(res, sql.ErrNoRows); err != nil {
			return err
		}
		member.Role = models.RoleUser
		member.StorageAllocated = 0
		member.Active = true
		return insertUser(ctx, tx, member, now)
	})
}

func (r *LedgerRepository) capacityError(ctx context.Context, tx *sqlx.Tx, userID string) error {
	var user models.User
	if err := tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("load user capacity: %w", err)
	}
	return &CapacityError{Available: user.Available()}
}

// expectRow returns notFound when the statement touched no rows.
func expectRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if notFound == nil {
			return sql.ErrNoRows
		}
		return notFound
	}
	return nil
}
