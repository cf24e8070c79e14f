package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"adaptive-quiz-service/internal/apperrors"
)

// respondError maps a pipeline failure onto its transport status. The
// stable code travels alongside the message so clients branch on it instead
// of parsing text.
func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	c.JSON(apperrors.HTTPStatus(code), gin.H{
		"error": err.Error(),
		"code":  string(code),
	})
}

func userID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// RequireUser rejects requests that reach a protected group without the
// gateway-injected identity header.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-User-ID") == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "MISSING_USER_ID",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// HealthCheck reports liveness for the Consul check and the gateway.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "adaptive-quiz-service",
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
