package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic into a 500. API callers get a JSON error carrying
// the request id; the workspace pages get plain text.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error(c.Request.Context(), "panic recovered",
				"error", rec,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"stack", string(debug.Stack()),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			requestID := GetRequestID(c)
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"request_id": requestID,
				})
				return
			}
			c.String(http.StatusInternalServerError, "Something went wrong (request %s)", requestID)
			c.Abort()
		}()

		c.Next()
	}
}
