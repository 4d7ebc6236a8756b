package repository

import "gorm.io/gorm"

// Repositories groups every repository so a unit of work can rebind them to one transaction
type Repositories struct {
	Positions    PositionRepository
	Requests     RiskRequestRepository
	Automation   AutomationRepository
	Bridge       BridgeRepository
	GlobalConfig GlobalConfigRepository
	Audit        AuditRepository
	Tokens       TokenRepository
	Custody      CustodyRepository
}

// NewRepositories creates all repositories over db
func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Positions:    NewPositionRepository(db),
		Requests:     NewRiskRequestRepository(db),
		Automation:   NewAutomationRepository(db),
		Bridge:       NewBridgeRepository(db),
		GlobalConfig: NewGlobalConfigRepository(db),
		Audit:        NewAuditRepository(db),
		Tokens:       NewTokenRepository(db),
		Custody:      NewCustodyRepository(db),
	}
}

// WithTx rebinds every repository to tx
func (r Repositories) WithTx(tx *gorm.DB) Repositories {
	return Repositories{
		Positions:    r.Positions.WithTx(tx),
		Requests:     r.Requests.WithTx(tx),
		Automation:   r.Automation.WithTx(tx),
		Bridge:       r.Bridge.WithTx(tx),
		GlobalConfig: r.GlobalConfig.WithTx(tx),
		Audit:        r.Audit.WithTx(tx),
		Tokens:       r.Tokens.WithTx(tx),
		Custody:      r.Custody.WithTx(tx),
	}
}
