package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type sweeper interface {
	Trigger() error
	LastReport() *models.SweepReport
}

// SweeperHandler lets superAdmins run the reconciliation sweeper on demand.
type SweeperHandler struct {
	sweeper sweeper
}

// NewSweeperHandler constructs SweeperHandler.
func NewSweeperHandler(s sweeper) *SweeperHandler {
	return &SweeperHandler{sweeper: s}
}

// Run godoc
// @Summary Trigger a sweep
// @Tags Admin
// @Produce json
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/sweeper/run [post]
func (h *SweeperHandler) Run(c *gin.Context) {
	if err := h.sweeper.Trigger(); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"status": "queued"}, nil)
}

// Last godoc
// @Summary Last sweep report
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/sweeper/last [get]
func (h *SweeperHandler) Last(c *gin.Context) {
	report := h.sweeper.LastReport()
	if report == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no sweep has finished yet"))
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
