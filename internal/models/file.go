package models

import (
	"strings"
	"time"
)

// UploadStatus is the File state machine: pending -> completed, or
// pending -> expired once the sweeper claims an abandoned upload.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadExpired   UploadStatus = "expired"
)

// File is one stored object and its upload bookkeeping.
type File struct {
	ID                string       `db:"id" json:"id"`
	OriginalName      string       `db:"original_name" json:"original_name"`
	Filename          string       `db:"filename" json:"filename"`
	Size              int64        `db:"size" json:"size"`
	MimeType          string       `db:"mimetype" json:"mimetype"`
	StorageType       string       `db:"storage_type" json:"storage_type"`
	StorageKey        string       `db:"storage_key" json:"storage_key"`
	UploadID          *string      `db:"upload_id" json:"upload_id,omitempty"`
	UploadStatus      UploadStatus `db:"upload_status" json:"upload_status"`
	UploadInitiatedAt time.Time    `db:"upload_initiated_at" json:"upload_initiated_at"`
	UploadCompletedAt *time.Time   `db:"upload_completed_at" json:"upload_completed_at,omitempty"`
	ETag              *string      `db:"etag" json:"etag,omitempty"`
	IsDeleted         bool         `db:"is_deleted" json:"is_deleted"`
	DeletedAt         *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
	UploadedBy        string       `db:"uploaded_by" json:"uploaded_by"`
	CompanyID         *string      `db:"company_id" json:"company_id,omitempty"`
}

// IsMultipart reports whether the file was initiated as a multipart session.
func (f *File) IsMultipart() bool {
	return f != nil && f.UploadID != nil && *f.UploadID != ""
}

// Counts reports whether the file contributes to quota totals.
func (f *File) Counts() bool {
	return f != nil && f.UploadStatus == UploadCompleted && !f.IsDeleted
}

// FileFilter scopes file listings.
type FileFilter struct {
	OwnerID  string
	MimeType string
	Search   string
	Page     int
	PageSize int
}

// FileCategory buckets files for the per-type usage breakdown.
type FileCategory string

const (
	CategoryImages    FileCategory = "images"
	CategoryVideos    FileCategory = "videos"
	CategoryPDFs      FileCategory = "pdfs"
	CategoryDocuments FileCategory = "documents"
	CategoryOthers    FileCategory = "others"
)

// Categories lists every bucket in display order.
var Categories = []FileCategory{CategoryImages, CategoryVideos, CategoryPDFs, CategoryDocuments, CategoryOthers}

// CategoryFor maps a MIME type to its usage bucket.
func CategoryFor(mimeType string) FileCategory {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImages
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideos
	case mimeType == "application/pdf":
		return CategoryPDFs
	case strings.HasPrefix(mimeType, "text/"),
		strings.Contains(mimeType, "msword"),
		strings.Contains(mimeType, "officedocument"),
		strings.Contains(mimeType, "opendocument"),
		mimeType == "application/rtf":
		return CategoryDocuments
	default:
		return CategoryOthers
	}
}
