package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	permissionsKey = "permissions"
	subjectKey     = "subject"
)

// Middleware validates bearer tokens. A nil handler disables authentication and
// grants AllPermissions.
func Middleware(h *JWTHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h == nil {
			c.Set(permissionsKey, AllPermissions)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "invalid authorization header format", nil))
			return
		}

		claims, err := h.ValidateAccessToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "invalid or expired token", nil))
			return
		}

		c.Set(permissionsKey, claims.Permissions)
		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_403", "insufficient permissions", string(required)))
			return
		}
		c.Next()
	}
}

// HasPermission reports whether Middleware granted perm to the current request.
func HasPermission(c *gin.Context, perm Permission) bool {
	perms, ok := c.Get(permissionsKey)
	if !ok {
		return false
	}
	list, _ := perms.([]Permission)
	return Granted(list, perm)
}

// Subject returns the token subject, or "" when authentication is disabled.
func Subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}
