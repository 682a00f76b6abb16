package status

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware guards the operator routes with a static bearer token
type AuthMiddleware struct {
	logger logging.Logger
	token  string
}

// NewAuthMiddleware creates a new authentication middleware. An empty token disables it.
func NewAuthMiddleware(logger logging.Logger, token string) *AuthMiddleware {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &AuthMiddleware{
		logger: logger,
		token:  token,
	}
}

// RequireAuth middleware that requires the bearer token
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.token == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.logger.Warn("Missing Authorization header", "path", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			m.logger.Warn("Invalid Authorization header format", "path", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization header format"})
			c.Abort()
			return
		}

		presented := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) != 1 {
			m.logger.Warn("Invalid operator token", "path", c.FullPath(), "remote", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			c.Abort()
			return
		}

		c.Next()
	}
}
