package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger writes one structured line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if user := c.GetString(UserKey); user != "" {
			fields = append(fields, zap.String("user", user))
		}
		if len(c.Errors) > 0 {
			log.Warn("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Info("request", fields...)
	}
}
