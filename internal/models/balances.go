package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenBalance stable token holdings on the local domain
type TokenBalance struct {
	ID        uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Address   string          `json:"address" gorm:"uniqueIndex;not null;size:42"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:varchar(80);not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FeeAccount owner value used for the vault's collected fees row
const FeeAccount = "fees"

// CustodyBalance collateral held by a vault for one owner and asset
type CustodyBalance struct {
	ID        uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Vault     string          `json:"vault" gorm:"not null;size:42;uniqueIndex:idx_custody_vault_owner_asset"`
	Owner     string          `json:"owner" gorm:"not null;size:42;uniqueIndex:idx_custody_vault_owner_asset"`
	Asset     string          `json:"asset" gorm:"not null;size:42;uniqueIndex:idx_custody_vault_owner_asset"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:varchar(80);not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
