package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/harborapp/harbor/internal/auth"
	"github.com/harborapp/harbor/internal/errors"
)

// AuthMiddleware validates the bearer token and places the
// authenticated user in the context under "user" and "user_id".
func AuthMiddleware(authService auth.AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			apiErr := errors.Unauthorized("missing authorization header")
			c.JSON(apiErr.Status, apiErr)
			c.Abort()
			return
		}

		tokenString := header
		if strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		}

		user, err := authService.ValidateToken(tokenString)
		if err != nil {
			apiErr := errors.Unauthorized("invalid or expired token")
			c.JSON(apiErr.Status, apiErr)
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}
