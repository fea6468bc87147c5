package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	sectool "CareBridge/tools/security"
)

// Context keys set by the middleware; downstream handlers read these.
const (
	CtxUserID     = "authUserId"
	CtxRole       = "authRole"
	CtxHospitalID = "authHospitalId"
)

// Middleware verifies a Bearer token and attaches the caller's identity to
// the request context. This is the transport-establishment side of
// authentication; the hub itself trusts whatever arrives afterwards.
func Middleware(opts sectool.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := sectool.Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Set(CtxHospitalID, claims.HospitalID)
		c.Next()
	}
}
