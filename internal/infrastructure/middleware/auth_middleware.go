package middleware

import (
	"net/http"
	"strings"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/logger"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// sessionToken reads the session from the cookie, then from a Bearer header.
func sessionToken(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// SessionMiddleware resolves the ambient session into an identity. A missing
// or invalid session leaves the request anonymous.
func SessionMiddleware(provider ports.IdentityProvider, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c, cookieName)
		if token == "" {
			c.Next()
			return
		}

		identity, err := provider.Authenticate(c.Request.Context(), token)
		if err == nil && identity != nil {
			c.Set(identityKey, identity)
			c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), identity.Key))
		}
		c.Next()
	}
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFromContext(c) == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFromContext returns the caller set by SessionMiddleware, or nil.
func IdentityFromContext(c *gin.Context) *domain.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*domain.Identity)
	return identity
}
