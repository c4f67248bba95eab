package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"textly-chat/internal/observability"
	"textly-chat/internal/ratelimit"
)

// Limiter checks one request against a namespace budget.
type Limiter interface {
	Check(ctx context.Context, ns ratelimit.Namespace, userID, ipHash string) (ratelimit.Result, error)
}

// RateLimit enforces the budget of ns per user and client address. It must
// run after Auth.
func RateLimit(limiter Limiter, ns ratelimit.Namespace, security *observability.SecurityLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		info := Info(c)

		res, err := limiter.Check(ctx, ns, info.UserID, info.IPHash)
		if errors.Is(err, ratelimit.ErrMisconfigured) {
			security.Error(ctx, observability.EventConfigError, info, map[string]any{"reason": err.Error(), "namespace": string(ns)})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if err != nil {
			security.Error(ctx, observability.EventConfigError, info, map[string]any{"reason": "limiter unavailable", "detail": err.Error(), "namespace": string(ns)})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !res.Allowed {
			retry := res.RetryAfterSeconds()
			security.Warn(ctx, observability.EventRateLimited, info, map[string]any{"namespace": string(ns), "retry_after": retry})
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Next()
	}
}
