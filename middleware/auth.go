// Package middleware holds the gin middleware for the API surface.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const deviceIDKey = "device_id"

// APIKeyAuth rejects requests whose X-API-Key header does not match the
// configured key. With no key configured the check is disabled; local
// development runs without one.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireDeviceID rejects requests without an X-Device-ID header and stashes
// the value in the request context for handlers.
func RequireDeviceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.GetHeader("X-Device-ID")
		if deviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Device-ID header is required"})
			c.Abort()
			return
		}
		c.Set(deviceIDKey, deviceID)
		c.Next()
	}
}

// DeviceID returns the device id stashed by RequireDeviceID, or the raw
// header when the middleware did not run.
func DeviceID(c *gin.Context) string {
	if id := c.GetString(deviceIDKey); id != "" {
		return id
	}
	return c.GetHeader("X-Device-ID")
}
