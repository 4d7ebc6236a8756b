package router

import (
	"net/http"
	"strconv"
	"strings"

	"collateral-backend/internal/config"
	"collateral-backend/internal/handlers"
	"collateral-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handlers everything the router mounts
type Handlers struct {
	Auth       *handlers.AuthHandler
	AdminAuth  *handlers.AdminAuthHandler
	Positions  *handlers.PositionHandler
	Oracle     *handlers.OracleHandler
	Automation *handlers.AutomationHandler
	Bridge     *handlers.BridgeHandler
	Admin      *handlers.AdminHandler
	WebSocket  *handlers.WebSocketHandler
}

// corsMiddleware CORS middleware driven by the cors config section. Empty origins allow all.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 3600
	}
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin": origin,
					"path":           c.Request.URL.Path,
					"remote_addr":    c.ClientIP(),
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept, X-Oracle-Token, X-Keeper-Token, X-Relayer-Token")
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter builds the gin engine
func SetupRouter(cfg *config.Config, db *gorm.DB, h Handlers) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(cfg.CORS))

	logger := logrus.StandardLogger()
	if len(cfg.Admin.AllowedIPs) > 0 {
		logger.WithField("count", len(cfg.Admin.AllowedIPs)).Info("Admin API IP whitelist configured")
	} else {
		logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, cfg.Admin.AllowedIPs)
	auth := middleware.NewAuthMiddleware(logger, h.Auth)
	adminAuth := middleware.NewAdminAuthMiddleware(logger, h.AdminAuth)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", handlers.HealthCheckHandler(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.WebSocket.HandleWebSocket)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.GET("/nonce", h.Auth.GenerateNonceHandler)
	authGroup.POST("/login", h.Auth.AuthenticateHandler)

	user := api.Group("", auth.RequireAuth())
	{
		user.POST("/positions/deposit", h.Positions.DepositHandler)
		user.GET("/positions", h.Positions.ListPositionsHandler)
		user.GET("/positions/summary", h.Positions.SummaryHandler)
		user.GET("/positions/:id", h.Positions.GetPositionHandler)
		user.POST("/positions/:id/withdraw", h.Positions.WithdrawHandler)

		user.GET("/requests", h.Positions.ListRequestsHandler)
		user.GET("/requests/:id", h.Positions.GetRequestHandler)
		user.POST("/requests/:id/manual", h.Positions.RequestManualHandler)
		user.POST("/requests/:id/process", h.Positions.ProcessOwnRequestHandler)

		user.POST("/automation/opt-in", h.Automation.OptInHandler)
		user.POST("/automation/opt-out", h.Automation.OptOutHandler)
		user.GET("/automation/status", h.Automation.StatusHandler)

		user.POST("/bridge/send", h.Bridge.SendHandler)
	}

	api.GET("/bridge/fees", h.Bridge.FeesHandler)
	api.GET("/bridge/routes", h.Bridge.RoutesHandler)
	api.GET("/bridge/messages/:id", h.Bridge.GetMessageHandler)
	api.POST("/bridge/receive",
		middleware.RequireToken(logger, "X-Relayer-Token", cfg.Bridge.RelayerToken),
		h.Bridge.ReceiveHandler)

	api.POST("/oracle/callback",
		middleware.RequireToken(logger, "X-Oracle-Token", cfg.Oracle.CallbackToken),
		h.Oracle.CallbackHandler)

	keeper := api.Group("/automation", middleware.RequireToken(logger, "X-Keeper-Token", cfg.Automation.KeeperToken))
	keeper.GET("/check", h.Automation.CheckHandler)
	keeper.POST("/perform", h.Automation.PerformHandler)

	adminPublic := api.Group("/admin", localhostOnly.Restrict())
	adminPublic.POST("/login", h.AdminAuth.AdminLoginHandler)
	adminPublic.POST("/totp", h.AdminAuth.GenerateTOTPSecretHandler)

	admin := api.Group("/admin", localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
	{
		admin.GET("/status", h.Admin.StatusHandler)
		admin.GET("/audit", h.Admin.AuditLogHandler)
		admin.POST("/bridge/routes", h.Admin.SetRouteHandler)
		admin.POST("/bridge/peers", h.Admin.SetPeerHandler)
		admin.POST("/bridge/router", h.Admin.SetRouterHandler)
		admin.POST("/bridge/fee-token", h.Admin.SetFeeTokenHandler)
		admin.POST("/vault", h.Admin.SetVaultHandler)
		admin.POST("/automation", h.Admin.SetAutomationHandler)
		admin.POST("/automation/run", h.Admin.RunAutomationHandler)
		admin.POST("/breaker/reset", h.Admin.ResetBreakerHandler)
		admin.POST("/requests/:id/process", h.Admin.ProcessRequestHandler)
		admin.POST("/ownership/transfer", h.Admin.TransferOwnershipHandler)
		admin.POST("/ownership/accept", h.Admin.AcceptOwnershipHandler)
		admin.POST("/ownership/cancel", h.Admin.CancelTransferHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "API endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
