package handlers

import (
	"net/http"
	"strings"

	"collateral-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler upgrades authenticated users to the domain event push stream
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
	auth        *AuthHandler
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(pushService *services.WebSocketPushService, auth *AuthHandler) *WebSocketHandler {
	return &WebSocketHandler{
		pushService: pushService,
		auth:        auth,
	}
}

// HandleWebSocket authenticates with ?token= or a Bearer header, then hands the socket to the hub
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userAddress := h.extractUserFromToken(c.Request)
	if userAddress == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Unauthorized",
			"code":    "INVALID_TOKEN",
		})
		return
	}
	h.pushService.HandleWebSocket(c.Writer, c.Request, userAddress)
}

func (h *WebSocketHandler) extractUserFromToken(r *http.Request) string {
	token := r.URL.Query().Get("token")
	if token == "" {
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		return ""
	}

	claims, err := h.auth.ValidateJWTToken(token)
	if err != nil {
		logrus.WithError(err).Debug("❌ WebSocket JWT validation failed")
		return ""
	}
	return claims.UserAddress
}
