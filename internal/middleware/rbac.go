package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
)

// RequireRoles lets only the listed roles through.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireCompanyScope admits superAdmins and admins whose company matches the
// route's :id parameter.
func RequireCompanyScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		switch {
		case claims.Role == models.RoleSuperAdmin:
		case claims.Role == models.RoleAdmin && claims.CompanyID != "" && claims.CompanyID == c.Param("id"):
		default:
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "not allowed to manage this company"))
			c.Abort()
			return
		}
		c.Next()
	}
}
