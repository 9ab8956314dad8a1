package handler

import (
	"net/http"
	"strings"

	"tradepost/internal/auth"

	"github.com/gin-gonic/gin"
)

const userIDKey = "userId"

// AuthMiddleware verifies the bearer token issued by the auth collaborator
// and stores the verified subject on the request context.
func AuthMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := authenticator.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// CallerID returns the verified user identity set by AuthMiddleware.
func CallerID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
