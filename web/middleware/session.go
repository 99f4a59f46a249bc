package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const SessionCookieName = "datachat_session"
const CookieMaxAge = 30 * 24 * 60 * 60 // 30 days

const sessionKey = "sessionID"

// SessionMiddleware reads the session cookie if one is present. It never
// creates sessions: a session comes into existence on the first message send,
// so merely opening the app leaves no database row behind. An unparseable
// cookie is treated as absent.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(SessionCookieName)
		if err == nil {
			if sessionID, err := uuid.Parse(cookie); err == nil {
				c.Set(sessionKey, sessionID)
			}
		}
		c.Next()
	}
}

// SessionID returns the session attached to the request, if any.
func SessionID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// SetSessionCookie attaches a freshly created session to the client and to
// the current request context.
func SetSessionCookie(c *gin.Context, sessionID uuid.UUID) {
	c.SetCookie(SessionCookieName, sessionID.String(), CookieMaxAge, "/", "", false, true)
	c.Set(sessionKey, sessionID)
}
