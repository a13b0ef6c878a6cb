package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const UserKey = "username"

type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AuthMiddleware resolves the caller's identity from the cookie or bearer
// token and stores it under UserKey.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(UserKey, user)
		c.Next()
	}
}

// SecurityHeadersMiddleware sets the headers every response carries.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
