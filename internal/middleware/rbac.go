package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

// PermissionChecker reports whether a role holds an action in either its plain or
// ownership-restricted form.
type PermissionChecker interface {
	CanAny(actor *models.JWTClaims, resource models.Resource, action models.Action) bool
}

// Permit rejects callers whose role can never perform the action on the resource.
// Ownership is checked later by the service once the record is loaded.
func Permit(policy PermissionChecker, resource models.Resource, action models.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentUser(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !policy.CanAny(claims, resource, action) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "you are not allowed to "+string(action)+" "+string(resource)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRoles allows only the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := CurrentUser(c)
		if !ok {
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
