package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/repository"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type companyLedger interface {
	CompanyOverview(ctx context.Context, companyID string) (*models.CompanyOverview, error)
	SetCompanyTotal(ctx context.Context, actor *models.JWTClaims, companyID string, total int64) (*models.Company, error)
	SetUserAllocation(ctx context.Context, actor *models.JWTClaims, userID string, bytes int64) (*repository.Allocation, error)
	FixAllocations(ctx context.Context, companyID string) (*models.ReconcileReport, error)
	DeleteCompany(ctx context.Context, companyID string) (int, error)
}

type usageReporter interface {
	UsageReport(ctx context.Context, companyID string, query dto.UsageReportQuery) (*dto.UsageReport, error)
}

// CompanyHandler manages tenant pools and member allocations.
type CompanyHandler struct {
	ledger  companyLedger
	reports usageReporter
}

// NewCompanyHandler constructs CompanyHandler.
func NewCompanyHandler(ledger companyLedger, reports usageReporter) *CompanyHandler {
	return &CompanyHandler{ledger: ledger, reports: reports}
}

// Overview godoc
// @Summary Company storage overview
// @Tags Companies
// @Produce json
// @Param id path string true "Company ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /companies/{id} [get]
func (h *CompanyHandler) Overview(c *gin.Context) {
	overview, err := h.ledger.CompanyOverview(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// SetStorage godoc
// @Summary Change company total storage
// @Tags Companies
// @Accept json
// @Produce json
// @Param id path string true "Company ID"
// @Param payload body dto.SetCompanyStorageRequest true "New total in bytes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /companies/{id}/storage [put]
func (h *CompanyHandler) SetStorage(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.SetCompanyStorageRequest
	if !bindJSON(c, &req, "invalid storage payload") {
		return
	}
	company, err := h.ledger.SetCompanyTotal(c.Request.Context(), claims, c.Param("id"), req.TotalStorage)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, company, nil)
}

// FixAllocations godoc
// @Summary Recompute company counters
// @Tags Companies
// @Produce json
// @Param id path string true "Company ID"
// @Success 200 {object} response.Envelope
// @Router /companies/{id}/fix-allocations [post]
func (h *CompanyHandler) FixAllocations(c *gin.Context) {
	report, err := h.ledger.FixAllocations(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Delete godoc
// @Summary Delete a company
// @Description Removes the tenant, its members and files, then deletes stored objects
// @Tags Companies
// @Produce json
// @Param id path string true "Company ID"
// @Success 200 {object} response.Envelope
// @Router /companies/{id} [delete]
func (h *CompanyHandler) Delete(c *gin.Context) {
	removed, err := h.ledger.DeleteCompany(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"company_id": c.Param("id"), "files_removed": removed}, nil)
}

// UsageReport godoc
// @Summary Export member usage
// @Tags Companies
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Company ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /companies/{id}/usage-report [get]
func (h *CompanyHandler) UsageReport(c *gin.Context) {
	var query dto.UsageReportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report query"))
		return
	}
	report, err := h.reports.UsageReport(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	c.Data(http.StatusOK, report.ContentType, report.Content)
}

// SetAllocation godoc
// @Summary Allocate storage to a member
// @Description Moves capacity between the calling admin's pool and a member of the same company
// @Tags Companies
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.SetUserAllocationRequest true "Allocation in bytes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/{id}/allocation [put]
func (h *CompanyHandler) SetAllocation(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.SetUserAllocationRequest
	if !bindJSON(c, &req, "invalid allocation payload") {
		return
	}
	result, err := h.ledger.SetUserAllocation(c.Request.Context(), claims, c.Param("id"), req.Bytes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"user_id":           result.Member.ID,
		"storage_allocated": result.Member.StorageAllocated,
		"admin_allocated":   result.Admin.AllocatedToUsers,
		"admin_available":   result.Admin.Available(),
	}, nil)
}
