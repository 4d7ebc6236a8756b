package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Engine source of a minting ratio decision
type Engine string

const (
	EngineAlgorithmic Engine = "ALGORITHMIC"
	EngineExternalAI  Engine = "EXTERNAL_AI"
	EngineTestTimeout Engine = "TEST_TIMEOUT" // never dispatched, always times out
)

// ParseEngine accepts the wire names; empty selects the algorithmic default
func ParseEngine(s string) (Engine, bool) {
	switch Engine(strings.ToUpper(strings.TrimSpace(s))) {
	case "", EngineAlgorithmic:
		return EngineAlgorithmic, true
	case EngineExternalAI:
		return EngineExternalAI, true
	case EngineTestTimeout:
		return EngineTestTimeout, true
	}
	return "", false
}

// RequestOutcome how a request was resolved
type RequestOutcome string

const (
	OutcomePending   RequestOutcome = "pending"
	OutcomeOracle    RequestOutcome = "oracle"    // valid oracle callback
	OutcomeFallback  RequestOutcome = "fallback"  // floor ratio (breaker open or bad callback)
	OutcomeManual    RequestOutcome = "manual"    // processManually
	OutcomeAbandoned RequestOutcome = "abandoned" // position left through emergency withdrawal
)

// RiskRequest one outstanding ask to the risk oracle, covering one Position.
// Rows are append-only; Processed flips to true exactly once.
type RiskRequest struct {
	ID                        uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	User                      string          `json:"user" gorm:"column:user_address;not null;size:42;index"`
	PositionID                uint64          `json:"position_id" gorm:"not null;index"`
	VaultRef                  string          `json:"vault_ref" gorm:"size:42"`
	BasketDigest              string          `json:"basket_digest" gorm:"size:66"`
	CollateralValueUSD        decimal.Decimal `json:"collateral_value_usd" gorm:"type:varchar(80);not null"`
	Engine                    Engine          `json:"engine" gorm:"size:20;not null"`
	FeeCharged                decimal.Decimal `json:"fee_charged" gorm:"type:varchar(80);not null"`
	SubmittedAt               time.Time       `json:"submitted_at"`
	Processed                 bool            `json:"processed" gorm:"not null;default:false;index"`
	ProcessedAt               *time.Time      `json:"processed_at,omitempty"`
	Outcome                   RequestOutcome  `json:"outcome" gorm:"size:20;not null;default:pending"`
	Ratio                     int             `json:"ratio"`
	Confidence                int             `json:"confidence"`
	Source                    string          `json:"source" gorm:"size:50"`
	Deviation                 string          `json:"deviation,omitempty" gorm:"type:text"` // why the floor was applied
	TimedOut                  bool            `json:"timed_out" gorm:"not null;default:false"`
	DispatchFailed            bool            `json:"dispatch_failed" gorm:"not null;default:false"` // already counted against the breaker
	ManualProcessingRequested bool            `json:"manual_processing_requested" gorm:"not null;default:false"`
	ManualRequestedAt         *time.Time      `json:"manual_requested_at,omitempty"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}

// Status lifecycle state derived from the flags
func (r *RiskRequest) Status() string {
	switch {
	case r.Processed:
		return "processed"
	case r.ManualProcessingRequested:
		return "manual_requested"
	case r.TimedOut:
		return "timed_out"
	default:
		return "submitted"
	}
}
