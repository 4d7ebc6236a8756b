package handlers

import (
	"fmt"
	"strconv"

	"collateral-backend/internal/dto"
	"collateral-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler operator and owner endpoints. Every action runs as the admin session's address.
type AdminHandler struct {
	admin       *services.AdminService
	access      *services.AccessControl
	bridge      *services.BridgeService
	coordinator *services.RiskRequestCoordinator
	scheduler   *services.SchedulerService
}

// NewAdminHandler creates the handler
func NewAdminHandler(
	admin *services.AdminService,
	access *services.AccessControl,
	bridge *services.BridgeService,
	coordinator *services.RiskRequestCoordinator,
	scheduler *services.SchedulerService,
) *AdminHandler {
	return &AdminHandler{
		admin:       admin,
		access:      access,
		bridge:      bridge,
		coordinator: coordinator,
		scheduler:   scheduler,
	}
}

// StatusHandler system status snapshot
// GET /api/v1/admin/status
func (h *AdminHandler) StatusHandler(c *gin.Context) {
	status, err := h.admin.Status(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, status)
}

// AuditLogHandler recent audit events, optionally filtered by kind
// GET /api/v1/admin/audit?kind=&limit=
func (h *AdminHandler) AuditLogHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.admin.AuditLog(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, events)
}

// SetRouteHandler enables or disables a destination domain
// POST /api/v1/admin/bridge/routes
func (h *AdminHandler) SetRouteHandler(c *gin.Context) {
	var req dto.RouteRequest
	if !bind(c, &req) {
		return
	}
	h.done(c, h.bridge.SetRoute(c.Request.Context(), adminAddress(c), req.Domain, req.Enabled))
}

// SetPeerHandler registers the trusted sender for a domain
// POST /api/v1/admin/bridge/peers
func (h *AdminHandler) SetPeerHandler(c *gin.Context) {
	var req dto.PeerRequest
	if !bind(c, &req) {
		return
	}
	h.done(c, h.bridge.SetTrustedPeer(c.Request.Context(), adminAddress(c), req.Domain, req.Peer))
}

// SetRouterHandler sets the bridge transport router
// POST /api/v1/admin/bridge/router
func (h *AdminHandler) SetRouterHandler(c *gin.Context) {
	var req dto.AddressRequest
	if !bind(c, &req) {
		return
	}
	h.done(c, h.bridge.SetRouter(c.Request.Context(), adminAddress(c), req.Address))
}

// SetFeeTokenHandler sets the bridge fee token
// POST /api/v1/admin/bridge/fee-token
func (h *AdminHandler) SetFeeTokenHandler(c *gin.Context) {
	var req dto.AddressRequest
	if !bind(c, &req) {
		return
	}
	h.done(c, h.bridge.SetFeeToken(c.Request.Context(), adminAddress(c), req.Address))
}

// SetVaultHandler sets the custody vault new positions lock into
// POST /api/v1/admin/vault
func (h *AdminHandler) SetVaultHandler(c *gin.Context) {
	var req dto.AddressRequest
	if !bind(c, &req) {
		return
	}
	h.done(c, h.admin.SetVault(c.Request.Context(), adminAddress(c), req.Address))
}

// SetAutomationHandler toggles the emergency withdrawal automation
// POST /api/v1/admin/automation
func (h *AdminHandler) SetAutomationHandler(c *gin.Context) {
	var req dto.AutomationToggleRequest
	if !bind(c, &req) {
		return
	}
	h.done(c, h.admin.SetAutomationEnabled(c.Request.Context(), adminAddress(c), req.Enabled))
}

// RunAutomationHandler runs one automation cycle immediately
// POST /api/v1/admin/automation/run
func (h *AdminHandler) RunAutomationHandler(c *gin.Context) {
	if err := h.access.RequireOperator(c.Request.Context(), adminAddress(c)); err != nil {
		respondWithError(c, err)
		return
	}
	report, err := h.scheduler.RunAutomationNow(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, report)
}

// ResetBreakerHandler closes the oracle circuit breaker
// POST /api/v1/admin/breaker/reset
func (h *AdminHandler) ResetBreakerHandler(c *gin.Context) {
	h.done(c, h.coordinator.ResetBreaker(c.Request.Context(), adminAddress(c)))
}

// ProcessRequestHandler operator resolution of an unanswered request
// POST /api/v1/admin/requests/:id/process
func (h *AdminHandler) ProcessRequestHandler(c *gin.Context) {
	processRequest(c, h.coordinator, adminAddress(c))
}

// TransferOwnershipHandler starts the two-step ownership handshake
// POST /api/v1/admin/ownership/transfer
func (h *AdminHandler) TransferOwnershipHandler(c *gin.Context) {
	var req dto.AddressRequest
	if !bind(c, &req) {
		return
	}
	h.done(c, h.access.TransferOwnership(c.Request.Context(), adminAddress(c), req.Address))
}

// AcceptOwnershipHandler completes the handshake as the pending owner
// POST /api/v1/admin/ownership/accept
func (h *AdminHandler) AcceptOwnershipHandler(c *gin.Context) {
	h.done(c, h.access.AcceptOwnership(c.Request.Context(), adminAddress(c)))
}

// CancelTransferHandler drops a pending ownership transfer
// POST /api/v1/admin/ownership/cancel
func (h *AdminHandler) CancelTransferHandler(c *gin.Context) {
	h.done(c, h.access.CancelTransfer(c.Request.Context(), adminAddress(c)))
}

func (h *AdminHandler) done(c *gin.Context, err error) {
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, nil)
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondBadRequest(c, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}
