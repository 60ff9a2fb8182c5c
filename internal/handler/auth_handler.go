package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type tokenIssuer interface {
	IssueTokenForEmail(ctx context.Context, email string) (*models.TokenResponse, error)
}

// AuthHandler exposes the caller's identity and, outside production, a token
// endpoint for local development.
type AuthHandler struct {
	issuer tokenIssuer
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(issuer tokenIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

type devTokenRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// DevToken godoc
// @Summary Issue a development token
// @Description Mints a bearer token for an existing user. Disabled in production.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body devTokenRequest true "User email"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/dev-token [post]
func (h *AuthHandler) DevToken(c *gin.Context) {
	var req devTokenRequest
	if !bindJSON(c, &req, "invalid token payload") {
		return
	}
	res, err := h.issuer.IssueTokenForEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Me godoc
// @Summary Get current caller
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"id":         claims.UserID,
		"email":      claims.Email,
		"role":       claims.Role,
		"company_id": claims.CompanyID,
	}, nil)
}
