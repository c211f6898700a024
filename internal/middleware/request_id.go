// Package middleware provides HTTP middleware for the tunnel server's
// management API and ingress path: request correlation IDs, structured
// request logging, and the extension-origin CORS policy.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the response/request header carrying the
	// correlation id.
	RequestIDHeader = "X-Request-Id"

	requestIDKey = "request_id"
)

// RequestID generates or extracts a correlation id for each request and
// mirrors it onto the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// GetRequestID retrieves the correlation id stashed by RequestID.
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get(requestIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
