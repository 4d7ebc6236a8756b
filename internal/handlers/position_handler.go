package handlers

import (
	"fmt"

	"collateral-backend/internal/dto"
	"collateral-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// PositionHandler user-facing position and risk request endpoints
type PositionHandler struct {
	deposits    *services.DepositService
	ledger      *services.PositionLedger
	coordinator *services.RiskRequestCoordinator
}

// NewPositionHandler creates the handler
func NewPositionHandler(deposits *services.DepositService, ledger *services.PositionLedger, coordinator *services.RiskRequestCoordinator) *PositionHandler {
	return &PositionHandler{
		deposits:    deposits,
		ledger:      ledger,
		coordinator: coordinator,
	}
}

// DepositHandler deposits a basket and submits its risk request
// POST /api/v1/positions/deposit
func (h *PositionHandler) DepositHandler(c *gin.Context) {
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}

	amounts, err := parseDecimals(req.Amounts)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	fee := decimal.Zero
	if req.FeePayment != "" {
		if fee, err = decimal.NewFromString(req.FeePayment); err != nil {
			respondBadRequest(c, "invalid fee_payment")
			return
		}
	}

	result, err := h.deposits.DepositBasket(c.Request.Context(), userAddress(c), req.Tokens, amounts, req.Engine, fee)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, result)
}

// ListPositionsHandler lists the caller's positions
// GET /api/v1/positions
func (h *PositionHandler) ListPositionsHandler(c *gin.Context) {
	positions, err := h.ledger.PositionsOf(c.Request.Context(), userAddress(c))
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, positions)
}

// SummaryHandler aggregates the caller's positions
// GET /api/v1/positions/summary
func (h *PositionHandler) SummaryHandler(c *gin.Context) {
	summary, err := h.ledger.Summary(c.Request.Context(), userAddress(c))
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, summary)
}

// GetPositionHandler returns one position
// GET /api/v1/positions/:id
func (h *PositionHandler) GetPositionHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	position, err := h.ledger.GetPosition(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, position)
}

// WithdrawHandler repays and releases a finalized position
// POST /api/v1/positions/:id/withdraw
func (h *PositionHandler) WithdrawHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	released, err := h.deposits.Withdraw(c.Request.Context(), userAddress(c), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, dto.WithdrawResponse{PositionID: id, Released: released})
}

// ListRequestsHandler lists the caller's risk requests
// GET /api/v1/requests
func (h *PositionHandler) ListRequestsHandler(c *gin.Context) {
	requests, err := h.coordinator.RequestsOf(c.Request.Context(), userAddress(c))
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, requests)
}

// GetRequestHandler returns one risk request
// GET /api/v1/requests/:id
func (h *PositionHandler) GetRequestHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	request, err := h.coordinator.GetRequest(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, request)
}

// RequestManualHandler flags an unanswered request for manual processing
// POST /api/v1/requests/:id/manual
func (h *PositionHandler) RequestManualHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	request, err := h.coordinator.RequestManualProcessing(c.Request.Context(), userAddress(c), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, request)
}

// ProcessOwnRequestHandler lets the owner resolve their request after the owner delay
// POST /api/v1/requests/:id/process
func (h *PositionHandler) ProcessOwnRequestHandler(c *gin.Context) {
	processRequest(c, h.coordinator, userAddress(c))
}

func processRequest(c *gin.Context, coordinator *services.RiskRequestCoordinator, caller string) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ProcessRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	result, err := coordinator.ProcessManually(c.Request.Context(), caller, id, req.Ratio, req.Source)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, result)
}

func parseDecimals(values []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q at index %d", v, i)
		}
		out[i] = d
	}
	return out, nil
}
