package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func CORSMiddleware(allowedOrigins []string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// no origin header (curl or same-origin)
		if origin != "" {
			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if allowedOrigin == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					allowed = true
					break
				}
			}

			if !allowed {
				log.Warn("origin not allowed", zap.String("origin", origin), zap.Strings("allowed", allowedOrigins))
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
				return
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
