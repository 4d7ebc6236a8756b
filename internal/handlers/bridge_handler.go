package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"collateral-backend/internal/dto"
	"collateral-backend/internal/models"
	"collateral-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BridgeHandler cross-chain transfer endpoints
type BridgeHandler struct {
	bridge *services.BridgeService
}

// NewBridgeHandler creates the handler
func NewBridgeHandler(bridge *services.BridgeService) *BridgeHandler {
	return &BridgeHandler{bridge: bridge}
}

// SendHandler burns the caller's tokens and queues the outbound envelope
// POST /api/v1/bridge/send
func (h *BridgeHandler) SendHandler(c *gin.Context) {
	var req dto.BridgeSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondBadRequest(c, "invalid amount")
		return
	}

	msg, err := h.bridge.Send(c.Request.Context(), userAddress(c), req.DestinationDomain, req.Recipient, amount, feeCurrency(req.FeeCurrency))
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, msg)
}

// FeesHandler quotes a send
// GET /api/v1/bridge/fees?destination_domain=&recipient=&amount=&fee_currency=
func (h *BridgeHandler) FeesHandler(c *gin.Context) {
	domain, err := strconv.ParseUint(c.Query("destination_domain"), 10, 64)
	if err != nil {
		respondBadRequest(c, "invalid destination_domain")
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		respondBadRequest(c, "invalid amount")
		return
	}
	currency := feeCurrency(c.Query("fee_currency"))

	fee, err := h.bridge.CalculateFees(c.Request.Context(), domain, c.Query("recipient"), amount, currency)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, dto.BridgeFeeResponse{
		DestinationDomain: domain,
		FeeCurrency:       string(currency),
		Fee:               fee.String(),
	})
}

// ReceiveHandler relayer entry for inbound envelopes
// POST /api/v1/bridge/receive
func (h *BridgeHandler) ReceiveHandler(c *gin.Context) {
	var env models.BridgeEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		respondBadRequest(c, fmt.Sprintf("invalid envelope: %v", err))
		return
	}
	msg, err := h.bridge.Receive(c.Request.Context(), &env)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, msg)
}

// GetMessageHandler returns one bridge message by id
// GET /api/v1/bridge/messages/:id
func (h *BridgeHandler) GetMessageHandler(c *gin.Context) {
	msg, err := h.bridge.Message(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "message not found", "kind": services.KindNotFound})
		return
	}
	respondOK(c, msg)
}

// RoutesHandler lists configured destination routes
// GET /api/v1/bridge/routes
func (h *BridgeHandler) RoutesHandler(c *gin.Context) {
	routes, err := h.bridge.Routes(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, gin.H{
		"local_domain": h.bridge.LocalDomain(),
		"routes":       routes,
	})
}

func feeCurrency(s string) models.FeeCurrency {
	return models.FeeCurrency(strings.ToUpper(strings.TrimSpace(s)))
}
