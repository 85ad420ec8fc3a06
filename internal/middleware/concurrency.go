package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// ConcurrencyLimit sheds load with 503 once max requests are in flight. max <= 0 disables it.
func ConcurrencyLimit(max int64) gin.HandlerFunc {
	if max <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := semaphore.NewWeighted(max)
	return func(c *gin.Context) {
		if !sem.TryAcquire(1) {
			c.Header("Retry-After", "1")
			response.Abort(c, appErrors.Clone(appErrors.ErrServiceUnavailable, "server is busy"))
			return
		}
		defer sem.Release(1)
		c.Next()
	}
}
