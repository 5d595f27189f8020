package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dadyutenga/ShopApI/internal/service"
	"github.com/dadyutenga/ShopApI/internal/token"
)

const principalKey = "principal"

// Auth validates Authorization header and attaches the verified principal.
type Auth struct {
	AuthService *service.AuthService
}

// ValidateJWT ensures the request has a valid bearer token.
func (m *Auth) ValidateJWT(c *gin.Context) {
	raw := BearerToken(c)
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	principal, err := m.AuthService.ValidateAccess(c.Request.Context(), raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.Set(principalKey, principal)
	c.Next()
}

// GetPrincipal exposes the verified identity to handlers.
func GetPrincipal(c *gin.Context) (*token.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*token.Principal)
	return principal, ok
}

// BearerToken extracts the bearer credential, or "" when absent.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
