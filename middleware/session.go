package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	SessionCookieName = "cart_session"
	sessionContextKey = "cart_session"
)

// CartSession makes sure every request carries a cart session id, issuing an
// HTTP-only cookie on first contact.
func CartSession(ttl time.Duration, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookieName)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookieName, id, int(ttl.Seconds()), "/", "", secure, true)
		c.Set(sessionContextKey, id)
		c.Next()
	}
}

// SessionID returns the cart session id set by CartSession.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionContextKey)
}
