package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"textly-chat/internal/middleware"
	"textly-chat/internal/observability"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Healthz reports ok when the database answers.
func Healthz(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// RegisterDebugRoutes wires development-only endpoints behind auth.
func RegisterDebugRoutes(router gin.IRoutes, emitter observability.Auditor, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		var userID *string
		if id := middleware.UserID(c); id != "" {
			userID = &id
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", middleware.RequestID(c), userID)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
