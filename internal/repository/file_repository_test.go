package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/models"
)

var fileRowColumns = []string{"id", "original_name", "filename", "size", "mimetype", "storage_type", "storage_key", "upload_id", "upload_status", "upload_initiated_at", "upload_completed_at", "etag", "is_deleted", "deleted_at", "uploaded_by", "company_id"}

func fileRow(rows *sqlmock.Rows, f models.File) *sqlmock.Rows {
	var uploadID interface{}
	if f.UploadID != nil {
		uploadID = *f.UploadID
	}
	return rows.AddRow(f.ID, f.OriginalName, f.Filename, f.Size, f.MimeType, "local", "uploads/"+f.ID, uploadID, string(f.UploadStatus), f.UploadInitiatedAt, nil, nil, f.IsDeleted, nil, f.UploadedBy, nil)
}

func TestCreateFileDefaultsToPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO files")).WillReturnResult(sqlmock.NewResult(0, 1))

	file := &models.File{OriginalName: "a.txt", Size: 5, UploadedBy: "u1"}
	require.NoError(t, repo.Create(context.Background(), file))
	assert.NotEmpty(t, file.ID)
	assert.Equal(t, models.UploadPending, file.UploadStatus)
	assert.False(t, file.UploadInitiatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindFileByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM files WHERE id = $1 LIMIT 1")).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListFilesByOwnerAppliesFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	now := time.Now()
	rows := fileRow(sqlmock.NewRows(fileRowColumns), models.File{ID: "f1", OriginalName: "Report.pdf", Size: 10, MimeType: "application/pdf", UploadStatus: models.UploadCompleted, UploadInitiatedAt: now, UploadedBy: "u1"})

	mock.ExpectQuery(regexp.QuoteMeta("uploaded_by = $1 AND upload_status = 'completed' AND is_deleted = FALSE AND mimetype = $2 AND LOWER(original_name) LIKE $3 ORDER BY upload_completed_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("u1", "application/pdf", "%report%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM files")).
		WithArgs("u1", "application/pdf", "%report%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	files, total, err := repo.ListByOwner(context.Background(), models.FileFilter{OwnerID: "u1", MimeType: "application/pdf", Search: "Report", Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 11, total)
	assert.Equal(t, "Report.pdf", files[0].OriginalName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStalePendingPagesByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	cutoff := time.Now().Add(-time.Hour)
	uploadID := "mp-1"
	rows := fileRow(sqlmock.NewRows(fileRowColumns), models.File{ID: "f2", UploadID: &uploadID, UploadStatus: models.UploadUploading, UploadInitiatedAt: cutoff.Add(-time.Minute), UploadedBy: "u1"})

	mock.ExpectQuery(regexp.QuoteMeta("upload_status <> 'completed' AND upload_initiated_at < $1 AND id > $2 ORDER BY id ASC LIMIT $3")).
		WithArgs(cutoff, "f1", 100).
		WillReturnRows(rows)

	files, err := repo.ListStalePending(context.Background(), cutoff, "f1", 100)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].IsMultipart())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePendingReportsWhetherRowWasRemoved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM files WHERE id = $1 AND upload_status <> 'completed'")).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM files WHERE id = $1 AND upload_status <> 'completed'")).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.DeletePending(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.DeletePending(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePendingSkipsCompletedRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	query := regexp.QuoteMeta("UPDATE files SET upload_status = 'expired' WHERE id = $1 AND upload_status <> 'completed'")
	mock.ExpectExec(query).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("f2").WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.ExpirePending(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ExpirePending(context.Background(), "f2")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHardDeleteOnlyTouchesSoftDeletedRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM files WHERE id = $1 AND is_deleted = TRUE")).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.HardDelete(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
