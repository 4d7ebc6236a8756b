package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position one user's deposited collateral basket and its minting outcome
type Position struct {
	ID                uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Owner             string          `json:"owner" gorm:"not null;size:42;index"`
	Vault             string          `json:"vault" gorm:"size:42"` // custody holding the basket
	Basket            Basket          `json:"basket"`
	TotalValueUSD     decimal.Decimal `json:"total_value_usd" gorm:"type:varchar(80);not null"`
	MintedAmount      decimal.Decimal `json:"minted_amount" gorm:"type:varchar(80);not null"`
	CollateralRatio   int             `json:"collateral_ratio" gorm:"not null;default:0"` // whole percent, 0 = undetermined
	RequestID         uint64          `json:"request_id" gorm:"index"`
	HasPendingRequest bool            `json:"has_pending_request" gorm:"not null;default:false;index"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	WithdrawnAt       *time.Time      `json:"withdrawn_at,omitempty"`
}

// IsActive holds collateral (pending or minted)
func (p *Position) IsActive() bool {
	return p.WithdrawnAt == nil && !p.Basket.IsEmpty()
}

// PositionSummary aggregate view over one owner's positions
type PositionSummary struct {
	Count       int             `json:"count"`
	ActiveCount int             `json:"active_count"`
	TotalValue  decimal.Decimal `json:"total_value_usd"`
	TotalMinted decimal.Decimal `json:"total_minted"`
}
