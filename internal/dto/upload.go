package dto

import (
	"time"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// InitUploadRequest starts a direct-to-store upload.
type InitUploadRequest struct {
	Filename string `json:"filename" validate:"required,max=255"`
	Size     int64  `json:"size" validate:"required,gt=0"`
	MimeType string `json:"mimetype" validate:"required,max=255"`
}

// PartURL is one presigned multipart chunk target.
type PartURL struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

// InitUploadResponse tells the client where to send bytes.
type InitUploadResponse struct {
	FileID     string               `json:"fileId"`
	StorageKey string               `json:"storageKey"`
	Multipart  bool                 `json:"multipart"`
	UploadURL  string               `json:"uploadUrl,omitempty"`
	UploadID   string               `json:"uploadId,omitempty"`
	ChunkSize  int64                `json:"chunkSize,omitempty"`
	Parts      []PartURL            `json:"parts,omitempty"`
	ExpiresAt  time.Time            `json:"expiresAt"`
	Quota      models.QuotaSnapshot `json:"quota"`
}

// FinalizeUploadRequest lists uploaded parts for multipart sessions.
type FinalizeUploadRequest struct {
	Parts []storage.CompletedPart `json:"parts" validate:"omitempty,dive"`
}

// FinalizeUploadResponse returns the completed file and the fresh quota.
type FinalizeUploadResponse struct {
	File  models.File          `json:"file"`
	Quota models.QuotaSnapshot `json:"quota"`
}

// DownloadURLResponse is a presigned download link.
type DownloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
