package middleware

import (
	"net/http"

	"callcore/pkg/auth"

	"github.com/gin-gonic/gin"
)

const (
	ContextRecipient = "recipient"
	ContextDeviceID  = "device_id"
)

// AuthMiddleware requires a valid device token in the Authorization header.
func AuthMiddleware(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := issuer.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextRecipient, claims.Recipient)
		c.Set(ContextDeviceID, claims.DeviceID)
		c.Next()
	}
}

// OptionalAuthMiddleware records the device when a valid token is present and
// lets the request through either way.
func OptionalAuthMiddleware(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := auth.BearerToken(c.GetHeader("Authorization")); err == nil {
			if claims, err := issuer.Validate(token); err == nil {
				c.Set(ContextRecipient, claims.Recipient)
				c.Set(ContextDeviceID, claims.DeviceID)
			}
		}
		c.Next()
	}
}
