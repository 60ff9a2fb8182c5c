// Package storage implements the object store adapter used by the upload
// orchestrator: presigned direct-to-store URLs, multipart lifecycle, metadata
// probes and deletion, with S3-compatible and local filesystem providers.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by Head when no object exists at the key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is the metadata returned by a HEAD probe.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// CompletedPart identifies one uploaded chunk of a multipart session.
type CompletedPart struct {
	PartNumber int    `json:"partNumber" validate:"required,min=1,max=10000"`
	ETag       string `json:"etag" validate:"required"`
}

// ObjectStore is the contract the upload core needs from a storage provider.
type ObjectStore interface {
	Provider() string
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key, filename string, ttl time.Duration, attachment bool) (string, error)
	InitiateMultipart(ctx context.Context, key, contentType string) (string, error)
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error)
	AbortMultipart(ctx context.Context, key, uploadID string) error
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// NormalizeETag strips the quotes providers put around entity tags.
func NormalizeETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}
