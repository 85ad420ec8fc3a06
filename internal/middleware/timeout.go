package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// Timeout bounds the request context. Handlers that return after the deadline without
// writing a response get a 503.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			response.Abort(c, appErrors.Clone(appErrors.ErrServiceUnavailable, "request timed out"))
		}
	}
}
