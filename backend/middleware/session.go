package middleware

import (
	"net/http"

	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionCookie names the cookie that identifies a workspace session.
const SessionCookie = "cc_session"

const sessionMaxAge = 7 * 24 * 60 * 60

// Session makes sure every request carries a workspace session id, issuing a
// new cookie when the browser has none or sends garbage.
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.New().String()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, id, sessionMaxAge, "/", "", false, true)
		}

		c.Set("session_id", id)
		c.Request = c.Request.WithContext(logger.WithValue(c.Request.Context(), logger.SessionKey, id))

		c.Next()
	}
}

// GetSessionID gets the workspace session id from context
func GetSessionID(c *gin.Context) string {
	return c.GetString("session_id")
}
