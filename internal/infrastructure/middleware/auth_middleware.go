package middleware

import (
	"net/http"
	"strings"

	"telecare/internal/core/domain"
	"telecare/internal/core/services"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware and read by handlers.
const (
	ContextIdentity = "identity"
	ContextRole     = "role"
)

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		token := parts[1]
		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		// Store caller info in context
		c.Set(ContextIdentity, claims.Identity)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole guards endpoints that only a given role may call. Must run
// after AuthMiddleware.
func RequireRole(required domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get(ContextRole)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		role, ok := roleVal.(domain.UserRole)
		if !ok || role != required {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(c *gin.Context) (domain.Identity, bool) {
	val, exists := c.Get(ContextIdentity)
	if !exists {
		return "", false
	}
	identity, ok := val.(domain.Identity)
	return identity, ok
}
