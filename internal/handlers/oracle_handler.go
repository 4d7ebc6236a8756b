package handlers

import (
	"fmt"

	"collateral-backend/internal/dto"
	"collateral-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// OracleHandler inbound risk oracle callbacks
type OracleHandler struct {
	coordinator *services.RiskRequestCoordinator
}

// NewOracleHandler creates the handler
func NewOracleHandler(coordinator *services.RiskRequestCoordinator) *OracleHandler {
	return &OracleHandler{coordinator: coordinator}
}

// CallbackHandler accepts an oracle answer. A malformed payload still resolves the
// request at the floor ratio and is answered with the recorded deviation.
// POST /api/v1/oracle/callback
func (h *OracleHandler) CallbackHandler(c *gin.Context) {
	var req dto.OracleCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}

	result, err := h.coordinator.OnCallback(c.Request.Context(), req.RequestID, req.Payload)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, result)
}
