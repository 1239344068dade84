package middleware

import (
	"net/http"
	"strings"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	appctx "github.com/Himesh-29/GPUConnect/internal/context"
	"github.com/gin-gonic/gin"
)

// JWTAuth returns a Gin middleware that validates the session token
// from the Authorization header (format: "Bearer <jwt>") and injects
// the authenticated User into the context.
func JWTAuth(jwtMgr *auth.JWTManager, userSvc auth.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header (expected: Bearer <token>)",
			})
			return
		}

		userID, err := jwtMgr.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired session",
			})
			return
		}

		user, err := userSvc.GetByID(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unknown user",
			})
			return
		}

		if user.Status != "active" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "account is " + user.Status,
			})
			return
		}

		c.Set(appctx.CtxKeyUser, user)
		c.Next()
	}
}

// extractBearerToken gets the token from "Authorization: Bearer <token>".
func extractBearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
