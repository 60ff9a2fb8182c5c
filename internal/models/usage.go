package models

import "time"

// DailyUsageRetention is how many daily buckets are kept per user.
const DailyUsageRetention = 30

// DailyUsage is one calendar day of transfer activity for a user.
type DailyUsage struct {
	UserID        string    `db:"user_id" json:"-"`
	Day           time.Time `db:"day" json:"day"`
	UploadSize    int64     `db:"upload_size" json:"upload_size"`
	UploadCount   int       `db:"upload_count" json:"upload_count"`
	DownloadSize  int64     `db:"download_size" json:"download_size"`
	DownloadCount int       `db:"download_count" json:"download_count"`
}

// TypeUsage is the per-category breakdown row.
type TypeUsage struct {
	UserID    string       `db:"user_id" json:"-"`
	Category  FileCategory `db:"category" json:"category"`
	FileCount int          `db:"file_count" json:"count"`
	TotalSize int64        `db:"total_size" json:"size"`
}

// UserTotals is the live count of a user's quota-relevant files.
type UserTotals struct {
	Used      int64 `db:"used"`
	FileCount int   `db:"file_count"`
}

// CompletedUpload is the ledger input for a finalized file.
type CompletedUpload struct {
	FileID    string
	UserID    string
	CompanyID string
	Size      int64
	ETag      string
	MimeType  string
	At        time.Time
}

// DeletedFile is the ledger input for a soft delete.
type DeletedFile struct {
	FileID    string
	UserID    string
	CompanyID string
	Size      int64
	MimeType  string
	At        time.Time
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
