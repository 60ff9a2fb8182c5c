package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

type localObjects interface {
	Signer() *storage.SignedURLSigner
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	PutPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (*os.File, *storage.ObjectInfo, error)
}

// ObjectHandler plays the object store for the local provider: it accepts the
// presigned PUTs and serves the presigned GETs.
type ObjectHandler struct {
	objects localObjects
	maxSize int64
	logger  *zap.Logger
}

// NewObjectHandler constructs ObjectHandler. maxSize caps one request body.
func NewObjectHandler(objects localObjects, maxSize int64, logger *zap.Logger) *ObjectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectHandler{objects: objects, maxSize: maxSize, logger: logger}
}

// Put stores a whole object or one multipart chunk.
func (h *ObjectHandler) Put(c *gin.Context) {
	grant, ok := h.grant(c)
	if !ok {
		return
	}
	body := io.Reader(c.Request.Body)
	if h.maxSize > 0 {
		body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize)
	}

	var (
		etag string
		err  error
	)
	switch grant.Op {
	case storage.OpPut:
		contentType := grant.ContentType
		if contentType == "" {
			contentType = c.ContentType()
		}
		etag, err = h.objects.Put(c.Request.Context(), grant.Key, contentType, body)
	case storage.OpPutPart:
		etag, err = h.objects.PutPart(c.Request.Context(), grant.Key, grant.UploadID, grant.PartNumber, body)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "token does not allow uploads"))
		return
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrQuotaExceeded, "object exceeds the maximum upload size"))
			return
		}
		h.logger.Warn("store object", zap.String("key", grant.Key), zap.String("op", grant.Op), zap.Error(err))
		response.Error(c, appErrors.StorageProvider("put object", err))
		return
	}
	c.Header("ETag", `"`+etag+`"`)
	c.Status(http.StatusOK)
}

// Get streams an object.
func (h *ObjectHandler) Get(c *gin.Context) {
	grant, ok := h.grant(c)
	if !ok {
		return
	}
	if grant.Op != storage.OpGet {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "token does not allow downloads"))
		return
	}
	file, info, err := h.objects.Open(c.Request.Context(), grant.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "object not found"))
			return
		}
		response.Error(c, appErrors.StorageProvider("open object", err))
		return
	}
	defer file.Close() //nolint:errcheck

	if info.ContentType != "" {
		c.Header("Content-Type", info.ContentType)
	}
	if info.ETag != "" {
		c.Header("ETag", `"`+info.ETag+`"`)
	}
	c.Header("Content-Disposition", storage.ContentDisposition(grant.Filename, grant.Attachment))
	http.ServeContent(c.Writer, c.Request, grant.Filename, info.LastModified, file)
}

func (h *ObjectHandler) grant(c *gin.Context) (storage.Grant, bool) {
	grant, err := h.objects.Signer().Verify(c.Query("token"), false)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired object token"))
		return grant, false
	}
	return grant, true
}
