package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// RequireRoles rejects principals whose role is not listed. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "not authenticated"))
			return
		}
		if _, ok := allowed[user.Role]; !ok {
			response.Abort(c, appErrors.Clone(appErrors.ErrForbidden, ""))
			return
		}
		c.Next()
	}
}
