package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smiley16479/music-room-sub004/controllers"
)

// AuthMiddleware ensures the user is authenticated.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := controllers.GetUserIDFromToken(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		// Set the user ID in the context for later use in the handler
		c.Set("userID", userID)

		c.Next()
	}
}
