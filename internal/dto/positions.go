package dto

import "collateral-backend/internal/models"

// DepositRequest basket deposit. Amounts are decimal strings in token units.
type DepositRequest struct {
	Tokens     []string `json:"tokens" binding:"required"`
	Amounts    []string `json:"amounts" binding:"required"`
	Engine     string   `json:"engine" binding:"required"`
	FeePayment string   `json:"fee_payment"`
}

// WithdrawResponse assets released by a withdrawal
type WithdrawResponse struct {
	PositionID uint64        `json:"position_id"`
	Released   models.Basket `json:"released"`
}

// OracleCallbackRequest inbound oracle answer
type OracleCallbackRequest struct {
	RequestID uint64 `json:"request_id" binding:"required"`
	Payload   string `json:"payload"`
}

// ProcessRequestRequest manual processing by an operator or the owner
type ProcessRequestRequest struct {
	Ratio  int    `json:"ratio" binding:"required"`
	Source string `json:"source"`
}
