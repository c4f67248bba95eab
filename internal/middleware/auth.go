package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"textly-chat/internal/auth"
	"textly-chat/internal/observability"
)

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Auth validates the bearer session token and stores the caller's id.
func Auth(verifier TokenVerifier, security *observability.SecurityLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := verifier.Verify(auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			security.Warn(c.Request.Context(), observability.EventAuthFail, Info(c), map[string]any{"reason": err.Error()})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		c.Set(userIDKey, claims.UserID())
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims returns the verified token claims, or nil before Auth ran.
func Claims(c *gin.Context) *auth.Claims {
	if val, ok := c.Get(claimsKey); ok {
		if claims, ok := val.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
