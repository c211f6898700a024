package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const corsMaxAge = "86400" // 24 hours, per the tunnel's CORS policy.

// extensionSchemes are always allowed regardless of environment: the
// browser extension is a first-class client of the tunnel API.
var extensionSchemes = []string{"chrome-extension://", "moz-extension://", "extension://"}

// CORS implements the tunnel's origin allowlist: browser extension
// origins always, localhost/127.0.0.1 origins in development, plus any
// operator-configured extras.
func CORS(devMode bool, extraOrigins []string) gin.HandlerFunc {
	extras := make(map[string]bool, len(extraOrigins))
	for _, o := range extraOrigins {
		extras[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && isAllowedOrigin(origin, devMode, extras) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
			c.Header("Access-Control-Expose-Headers", "X-Request-Id, X-Preview-Url")
			c.Header("Access-Control-Max-Age", corsMaxAge)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func isAllowedOrigin(origin string, devMode bool, extras map[string]bool) bool {
	for _, scheme := range extensionSchemes {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	if devMode && (strings.HasPrefix(origin, "http://localhost:") || origin == "http://localhost" ||
		strings.HasPrefix(origin, "http://127.0.0.1:") || origin == "http://127.0.0.1") {
		return true
	}
	return extras[origin]
}
