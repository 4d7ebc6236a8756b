package models

import "time"

// GlobalConfig stores administrative key/value state for this domain
type GlobalConfig struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ConfigKey   string    `json:"config_key" gorm:"uniqueIndex;not null;size:50"`
	ConfigValue string    `json:"config_value" gorm:"not null;size:200"`
	Description string    `json:"description" gorm:"size:200"`
	UpdatedBy   string    `json:"updated_by" gorm:"size:50"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Known configuration keys
const (
	ConfigKeyVault             = "vault_ref"
	ConfigKeyBridgeRouter      = "bridge_router"
	ConfigKeyBridgeFeeToken    = "bridge_fee_token"
	ConfigKeyBridgeNonce       = "bridge_nonce"
	ConfigKeyAutomationEnabled = "automation_enabled"
	ConfigKeyAutomationCursor  = "automation_cursor"
	ConfigKeyOwner             = "owner"
	ConfigKeyPendingOwner      = "pending_owner"
)
