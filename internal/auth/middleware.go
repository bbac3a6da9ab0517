package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const deviceKey = "device_id"

// Verifier validates an access token and returns the device id.
type Verifier interface {
	Verify(accessToken string) (string, error)
}

// DeviceAuth enforces bearer JWT access tokens signed with HS256.
func DeviceAuth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		deviceID, err := v.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(deviceKey, deviceID)
		c.Next()
	}
}

// DeviceID returns the device id set by DeviceAuth, or "".
func DeviceID(c *gin.Context) string {
	return c.GetString(deviceKey)
}
