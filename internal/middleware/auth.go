package middleware

import (
	"net/http"
	"strings"

	"collateral-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware user JWT authentication
type AuthMiddleware struct {
	logger *logrus.Logger
	auth   *handlers.AuthHandler
}

// NewAuthMiddleware creates the user JWT middleware
func NewAuthMiddleware(logger *logrus.Logger, auth *handlers.AuthHandler) *AuthMiddleware {
	return &AuthMiddleware{
		logger: logger,
		auth:   auth,
	}
}

// RequireAuth rejects requests without a valid user token and stores user_address in the context
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code, msg := bearerToken(c)
		if code != "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"code":   code,
			}).Warn("JWT auth failed")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   msg,
				"code":    code,
			})
			return
		}

		claims, err := a.auth.ValidateJWTToken(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("JWT auth failed - token verification failed")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		c.Set("user_address", claims.UserAddress)

		a.logger.WithFields(logrus.Fields{
			"path":         c.Request.URL.Path,
			"method":       c.Request.Method,
			"user_address": claims.UserAddress,
		}).Debug("JWT auth success")

		c.Next()
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>". A non-empty code means failure.
func bearerToken(c *gin.Context) (token, code, msg string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "MISSING_AUTH_HEADER", "Authentication required"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "INVALID_AUTH_FORMAT", "Authorization header must be in format: Bearer <token>"
	}
	token = strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "EMPTY_TOKEN", "Token cannot be empty"
	}
	return token, "", ""
}
