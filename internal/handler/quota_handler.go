package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/middleware"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type quotaService interface {
	Snapshot(ctx context.Context, userID string) (*models.QuotaSnapshot, bool, error)
	UsageHistory(ctx context.Context, userID string) ([]models.DailyUsage, error)
}

// QuotaHandler reports the caller's quota.
type QuotaHandler struct {
	quota quotaService
}

// NewQuotaHandler constructs QuotaHandler.
func NewQuotaHandler(quota quotaService) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// Snapshot godoc
// @Summary Quota snapshot
// @Description Storage, file count, daily upload and per-type usage of the caller
// @Tags Quota
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /quota [get]
func (h *QuotaHandler) Snapshot(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	snapshot, cached, err := h.quota.Snapshot(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, snapshot, nil, middleware.ExtractMeta(c))
}

// History godoc
// @Summary Daily usage history
// @Tags Quota
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /quota/history [get]
func (h *QuotaHandler) History(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	history, err := h.quota.UsageHistory(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}
