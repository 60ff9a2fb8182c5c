package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type uploadService interface {
	InitUpload(ctx context.Context, actor *models.JWTClaims, req dto.InitUploadRequest) (*dto.InitUploadResponse, error)
	FinalizeUpload(ctx context.Context, actor *models.JWTClaims, fileID string, req dto.FinalizeUploadRequest) (*dto.FinalizeUploadResponse, error)
	AbortUpload(ctx context.Context, actor *models.JWTClaims, fileID string) error
}

// UploadHandler exposes the presigned upload protocol.
type UploadHandler struct {
	uploads uploadService
}

// NewUploadHandler constructs UploadHandler.
func NewUploadHandler(uploads uploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// Init godoc
// @Summary Start an upload
// @Description Checks quota and returns a presigned URL, or part URLs for large files
// @Tags Uploads
// @Accept json
// @Produce json
// @Param payload body dto.InitUploadRequest true "File metadata"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Init(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.InitUploadRequest
	if !bindJSON(c, &req, "invalid upload payload") {
		return
	}
	res, err := h.uploads.InitUpload(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Finalize godoc
// @Summary Finalize an upload
// @Description Verifies the stored object and charges it to the quota ledger
// @Tags Uploads
// @Accept json
// @Produce json
// @Param id path string true "File ID"
// @Param payload body dto.FinalizeUploadRequest false "Uploaded parts (multipart only)"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /uploads/{id}/finalize [post]
func (h *UploadHandler) Finalize(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.FinalizeUploadRequest
	if !bindOptionalJSON(c, &req, "invalid finalize payload") {
		return
	}
	res, err := h.uploads.FinalizeUpload(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Abort godoc
// @Summary Abort a pending upload
// @Tags Uploads
// @Param id path string true "File ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /uploads/{id}/abort [post]
func (h *UploadHandler) Abort(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.uploads.AbortUpload(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
