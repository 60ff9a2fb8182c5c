package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/filevault-api/internal/models"
)

const fileColumns = `id, original_name, filename, size, mimetype, storage_type, storage_key, upload_id, upload_status, upload_initiated_at, upload_completed_at, etag, is_deleted, deleted_at, uploaded_by, company_id`

// FileRepository persists file rows. Status transitions that move quota live in LedgerRepository.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs a FileRepository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts a pending file row.
func (r *FileRepository) Create(ctx context.Context, file *models.File) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadStatus == "" {
		file.UploadStatus = models.UploadPending
	}
	if file.UploadInitiatedAt.IsZero() {
		file.UploadInitiatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO files (id, original_name, filename, size, mimetype, storage_type, storage_key, upload_id, upload_status, upload_initiated_at, uploaded_by, company_id) VALUES (:id, :original_name, :filename, :size, :mimetype, :storage_type, :storage_key, :upload_id, :upload_status, :upload_initiated_at, :uploaded_by, :company_id)`
	if _, err := r.db.NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

// FindByID returns a file by identifier, including soft-deleted rows.
func (r *FileRepository) FindByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 LIMIT 1`
	var file models.File
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find file: %w", err)
	}
	return &file, nil
}

// ListByOwner returns completed, non-deleted files of a user, newest first.
func (r *FileRepository) ListByOwner(ctx context.Context, filter models.FileFilter) ([]models.File, int, error) {
	conditions := []string{"uploaded_by = $1", "upload_status = 'completed'", "is_deleted = FALSE"}
	args := []interface{}{filter.OwnerID}
	if filter.MimeType != "" {
		args = append(args, filter.MimeType)
		conditions = append(conditions, fmt.Sprintf("mimetype = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(original_name) LIKE $%d", len(args)))
	}
	baseQuery := "FROM files WHERE " + strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY upload_completed_at DESC LIMIT %d OFFSET %d", fileColumns, baseQuery, pageSize, offset)
	var files []models.File
	if err := r.db.SelectContext(ctx, &files, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}
	return files, total, nil
}

// ListStalePending pages through pending files initiated before cutoff, keyed by id.
func (r *FileRepository) ListStalePending(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE upload_status <> 'completed' AND upload_initiated_at < $1 AND id > $2 ORDER BY id ASC LIMIT $3`
	var files []models.File
	if err := r.db.SelectContext(ctx, &files, query, cutoff, afterID, limit); err != nil {
		return nil, fmt.Errorf("list stale pending files: %w", err)
	}
	return files, nil
}

// ListPurgeable pages through files soft-deleted before cutoff, keyed by id.
func (r *FileRepository) ListPurgeable(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE is_deleted = TRUE AND deleted_at < $1 AND id > $2 ORDER BY id ASC LIMIT $3`
	var files []models.File
	if err := r.db.SelectContext(ctx, &files, query, cutoff, afterID, limit); err != nil {
		return nil, fmt.Errorf("list purgeable files: %w", err)
	}
	return files, nil
}

// ExpirePending claims an unfinished row for cleanup so it can no longer be
// finalized. Rows already expired by an earlier run are claimed again.
func (r *FileRepository) ExpirePending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET upload_status = 'expired' WHERE id = $1 AND upload_status <> 'completed'`, id)
	if err != nil {
		return false, fmt.Errorf("expire pending file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire pending file: %w", err)
	}
	return affected > 0, nil
}

// DeletePending removes a row that never completed. It reports whether a row was removed.
func (r *FileRepository) DeletePending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1 AND upload_status <> 'completed'`, id)
	if err != nil {
		return false, fmt.Errorf("delete pending file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pending file: %w", err)
	}
	return affected > 0, nil
}

// HardDelete removes a soft-deleted row. It reports whether a row was removed.
func (r *FileRepository) HardDelete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1 AND is_deleted = TRUE`, id)
	if err != nil {
		return false, fmt.Errorf("hard delete file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hard delete file: %w", err)
	}
	return affected > 0, nil
}
