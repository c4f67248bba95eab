package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"textly-chat/internal/observability"
)

const (
	requestIDKey = "request_id"
	ipHashKey    = "ip_hash"
	userIDKey    = "user_id"
	claimsKey    = "claims"
)

// RequestContext assigns a request id, echoes it in X-Request-ID and stores
// the hashed client address.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := observability.RequestIDFromRequest(c.Request)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Set(ipHashKey, observability.HashIP(observability.IPFromRequest(c.Request)))
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestID returns the id assigned by RequestContext.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// IPHash returns the hashed client address.
func IPHash(c *gin.Context) string {
	if hash := c.GetString(ipHashKey); hash != "" {
		return hash
	}
	return observability.HashIP(observability.IPFromRequest(c.Request))
}

// UserID returns the authenticated user, or "" before Auth ran.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// Info describes the request for security events.
func Info(c *gin.Context) observability.RequestInfo {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return observability.RequestInfo{
		RequestID: RequestID(c),
		Route:     route,
		IPHash:    IPHash(c),
		UserID:    UserID(c),
	}
}
