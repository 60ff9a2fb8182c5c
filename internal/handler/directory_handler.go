package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type directoryService interface {
	ProvisionCompany(ctx context.Context, req dto.ProvisionCompanyRequest) (*dto.ProvisionCompanyResponse, error)
	AddMember(ctx context.Context, companyID string, req dto.AddMemberRequest) (*models.User, error)
	ListMembers(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// DirectoryHandler provisions tenants and manages their members.
type DirectoryHandler struct {
	directory directoryService
}

// NewDirectoryHandler constructs DirectoryHandler.
func NewDirectoryHandler(directory directoryService) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// Provision godoc
// @Summary Provision a company
// @Description Creates a tenant and its owning admin
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.ProvisionCompanyRequest true "Company and owner"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/companies [post]
func (h *DirectoryHandler) Provision(c *gin.Context) {
	var req dto.ProvisionCompanyRequest
	if !bindJSON(c, &req, "invalid company payload") {
		return
	}
	res, err := h.directory.ProvisionCompany(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// AddMember godoc
// @Summary Add a company member
// @Tags Companies
// @Accept json
// @Produce json
// @Param id path string true "Company ID"
// @Param payload body dto.AddMemberRequest true "Member"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /companies/{id}/members [post]
func (h *DirectoryHandler) AddMember(c *gin.Context) {
	var req dto.AddMemberRequest
	if !bindJSON(c, &req, "invalid member payload") {
		return
	}
	member, err := h.directory.AddMember(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, member)
}

// Members godoc
// @Summary List company members
// @Tags Companies
// @Produce json
// @Param id path string true "Company ID"
// @Param role query string false "admin or user"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /companies/{id}/members [get]
func (h *DirectoryHandler) Members(c *gin.Context) {
	page, size := pageParams(c)
	filter := models.UserFilter{CompanyID: c.Param("id"), Page: page, PageSize: size}
	if raw := c.Query("role"); raw != "" {
		role := models.UserRole(raw)
		if role != models.RoleAdmin && role != models.RoleUser {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "role must be admin or user"))
			return
		}
		filter.Role = &role
	}
	users, total, err := h.directory.ListMembers(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, &response.Pagination{Page: page, PageSize: size, TotalCount: total})
}
