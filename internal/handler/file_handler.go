package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type fileService interface {
	ListFiles(ctx context.Context, actor *models.JWTClaims, filter models.FileFilter) ([]models.File, int, error)
	DownloadURL(ctx context.Context, actor *models.JWTClaims, fileID string, attachment bool) (*dto.DownloadURLResponse, error)
	DeleteFile(ctx context.Context, actor *models.JWTClaims, fileID string) error
}

// FileHandler serves the caller's stored files.
type FileHandler struct {
	files fileService
}

// NewFileHandler constructs FileHandler.
func NewFileHandler(files fileService) *FileHandler {
	return &FileHandler{files: files}
}

// List godoc
// @Summary List files
// @Tags Files
// @Produce json
// @Param search query string false "Name contains"
// @Param mimetype query string false "Exact MIME type"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /files [get]
func (h *FileHandler) List(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	files, total, err := h.files.ListFiles(c.Request.Context(), claims, models.FileFilter{
		Search:   c.Query("search"),
		MimeType: c.Query("mimetype"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files, &response.Pagination{Page: page, PageSize: size, TotalCount: total})
}

// Download godoc
// @Summary Presigned download URL
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Param attachment query bool false "Force download"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{id}/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	attachment, _ := strconv.ParseBool(c.DefaultQuery("attachment", "false"))
	res, err := h.files.DownloadURL(c.Request.Context(), claims, c.Param("id"), attachment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Delete godoc
// @Summary Delete a file
// @Description Soft-deletes the file and releases its quota immediately
// @Tags Files
// @Param id path string true "File ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /files/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.files.DeleteFile(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
