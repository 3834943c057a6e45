package middlewares

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/optics_backend/config"
	"bitbucket.org/mmdatafocus/optics_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the "token" header into a user identity.
// The token is looked up in redis first (server-side sessions); a jwt
// fallback keeps stateless tokens working when redis is cold.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		userId, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			parsed, jwtErr := utils.JwtValidate(token)
			if jwtErr != nil || !parsed.Valid {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
			if !ok || claims.UserId == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			userId = claims.UserId
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, userId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
