package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/temcen/shopsense/internal/config"
)

// VisitorKey is the gin context key holding the visitor key.
const VisitorKey = "visitor_key"

var validVisitorKey = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// Visitor resolves the visitor key from the header, then the cookie, and
// issues a new one when neither carries a usable key. The key is always
// written back in both.
func Visitor(cfg config.SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Header, then cookie, then a new key
		key := c.GetHeader(cfg.VisitorHeader)
		if !validVisitorKey.MatchString(key) {
			key, _ = c.Cookie(cfg.CookieName)
		}
		if !validVisitorKey.MatchString(key) {
			key = uuid.NewString()
		}

		// Echo the key back
		c.Set(VisitorKey, key)
		c.Header(cfg.VisitorHeader, key)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cfg.CookieName, key, int(cfg.CookieMaxAge.Seconds()), "/", "", cfg.CookieSecure, true)

		c.Next()
	}
}

func GetVisitorKey(c *gin.Context) string {
	return c.GetString(VisitorKey)
}
