package middleware

import (
	"net/http"

	"collateral-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminAuthMiddleware admin JWT authentication
type AdminAuthMiddleware struct {
	logger *logrus.Logger
	admin  *handlers.AdminAuthHandler
}

// NewAdminAuthMiddleware creates the admin JWT middleware
func NewAdminAuthMiddleware(logger *logrus.Logger, admin *handlers.AdminAuthHandler) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		logger: logger,
		admin:  admin,
	}
}

// RequireAdminAuth rejects requests without an admin token and stores admin_username and admin_address
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code, msg := bearerToken(c)
		if code != "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"code":   code,
			}).Warn("Admin auth failed")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   msg,
				"code":    code,
			})
			return
		}

		claims, err := a.admin.ValidateAdminJWTToken(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("Admin auth failed - invalid token")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		if claims.Role != "admin" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"role":   claims.Role,
			}).Warn("Admin auth failed - insufficient permissions")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Insufficient permissions",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			return
		}

		c.Set("admin_username", claims.Username)
		c.Set("admin_address", claims.Address)

		c.Next()
	}
}
