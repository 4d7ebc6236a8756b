package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BridgeRoute peer domain and the only sender accepted from it
type BridgeRoute struct {
	ID            uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Domain        uint64    `json:"domain" gorm:"uniqueIndex;not null"`
	TrustedSender string    `json:"trusted_sender" gorm:"size:42"`
	Enabled       bool      `json:"enabled" gorm:"not null;default:false"`
	UpdatedBy     string    `json:"updated_by" gorm:"size:42"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MessageDirection bridge message direction
type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// RelayStatus delivery state of a bridge message
type RelayStatus string

const (
	RelayStatusPending  RelayStatus = "pending_relay" // burned, not yet handed to the transport
	RelayStatusRelayed  RelayStatus = "relayed"
	RelayStatusReceived RelayStatus = "received" // inbound, minted
)

// FeeCurrency currency a bridge fee is quoted in
type FeeCurrency string

const (
	FeeCurrencyNative   FeeCurrency = "NATIVE"
	FeeCurrencyFeeToken FeeCurrency = "FEE_TOKEN"
)

// BridgeMessage outbound log and inbound de-duplication record
type BridgeMessage struct {
	ID                uint64           `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID         string           `json:"message_id" gorm:"uniqueIndex;not null;size:66"`
	Direction         MessageDirection `json:"direction" gorm:"size:10;not null;index"`
	Nonce             uint64           `json:"nonce"`
	SourceDomain      uint64           `json:"source_domain" gorm:"not null"`
	DestinationDomain uint64           `json:"destination_domain" gorm:"not null"`
	Sender            string           `json:"sender" gorm:"size:42"`
	Recipient         string           `json:"recipient" gorm:"size:42"`
	Amount            decimal.Decimal  `json:"amount" gorm:"type:varchar(80);not null"`
	FeeCurrency       FeeCurrency      `json:"fee_currency" gorm:"size:10"`
	FeeAmount         decimal.Decimal  `json:"fee_amount" gorm:"type:varchar(80);not null"`
	Payload           string           `json:"payload" gorm:"type:text"` // hex
	Status            RelayStatus      `json:"status" gorm:"size:20;not null;index"`
	RelayAttempts     int              `json:"relay_attempts" gorm:"default:0"`
	LastError         string           `json:"last_error" gorm:"type:text"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// BridgeEnvelope generic cross-chain envelope carried by the transport
type BridgeEnvelope struct {
	SourceDomain      uint64 `json:"source_domain"`
	DestinationDomain uint64 `json:"destination_domain"`
	SenderAddress     string `json:"sender_address"`
	Router            string `json:"router"`
	MessageID         string `json:"message_id"`
	Nonce             uint64 `json:"nonce"`
	Payload           string `json:"payload"` // 0x hex of abi.encode(address, uint256)
}
