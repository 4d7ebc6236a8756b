package handlers

import (
	"fmt"

	"collateral-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler opt-in endpoints and the keeper check/perform pair
type AutomationHandler struct {
	scheduler *services.EmergencyWithdrawalScheduler
}

// NewAutomationHandler creates the handler
func NewAutomationHandler(scheduler *services.EmergencyWithdrawalScheduler) *AutomationHandler {
	return &AutomationHandler{scheduler: scheduler}
}

// OptInHandler registers the caller for emergency withdrawal
// POST /api/v1/automation/opt-in
func (h *AutomationHandler) OptInHandler(c *gin.Context) {
	if err := h.scheduler.OptIn(c.Request.Context(), userAddress(c)); err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, gin.H{"opted_in": true})
}

// OptOutHandler clears the caller's opt-in. The registry entry keeps its slot.
// POST /api/v1/automation/opt-out
func (h *AutomationHandler) OptOutHandler(c *gin.Context) {
	if err := h.scheduler.OptOut(c.Request.Context(), userAddress(c)); err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, gin.H{"opted_in": false})
}

// StatusHandler reports whether the caller is opted in
// GET /api/v1/automation/status
func (h *AutomationHandler) StatusHandler(c *gin.Context) {
	opted, err := h.scheduler.IsOptedIn(c.Request.Context(), userAddress(c))
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, gin.H{"opted_in": opted})
}

// CheckHandler read-only scan for the keeper
// GET /api/v1/automation/check
func (h *AutomationHandler) CheckHandler(c *gin.Context) {
	scan, err := h.scheduler.Scan(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, gin.H{
		"upkeep_needed": len(scan.Entries) > 0,
		"perform_data":  scan.Payload(),
	})
}

// PerformHandler applies a keeper-supplied trigger payload
// POST /api/v1/automation/perform
func (h *AutomationHandler) PerformHandler(c *gin.Context) {
	var payload services.TriggerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	scan, err := services.ScanFromPayload(payload)
	if err != nil {
		respondWithError(c, err)
		return
	}
	report, err := h.scheduler.Apply(c.Request.Context(), scan)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondOK(c, report)
}
