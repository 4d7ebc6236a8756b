package services

import (
	"context"
	"strconv"

	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"
	"collateral-backend/internal/utils"
)

// AdminService privileged configuration of the vault and automation
type AdminService struct {
	txm               *TxManager
	repos             repository.Repositories
	access            *AccessControl
	breaker           *CircuitBreaker
	automationDefault bool
}

// NewAdminService creates a new AdminService
func NewAdminService(txm *TxManager, access *AccessControl, breaker *CircuitBreaker, automationDefault bool) *AdminService {
	return &AdminService{
		txm:               txm,
		repos:             txm.Repos(),
		access:            access,
		breaker:           breaker,
		automationDefault: automationDefault,
	}
}

// SystemStatus administrative snapshot
type SystemStatus struct {
	Owner             string       `json:"owner"`
	PendingOwner      string       `json:"pending_owner"`
	Vault             string       `json:"vault"`
	BridgeRouter      string       `json:"bridge_router"`
	BridgeFeeToken    string       `json:"bridge_fee_token"`
	AutomationEnabled bool         `json:"automation_enabled"`
	AutomationCursor  uint64       `json:"automation_cursor"`
	BreakerState      BreakerState `json:"breaker_state"`
	BreakerFailures   int          `json:"breaker_failures"`
	TotalSupply       string       `json:"total_supply"`
}

// SetVault sets the custody reference deposits lock into
func (a *AdminService) SetVault(ctx context.Context, caller, vault string) error {
	addr, err := validateAddress(vault)
	if err != nil {
		return err
	}
	return a.set(ctx, caller, "admin.vault_set", models.ConfigKeyVault, addr)
}

// Bootstrap seeds the vault from configuration when none is stored
func (a *AdminService) Bootstrap(ctx context.Context, vault string) error {
	addr := utils.NormalizeAddress(vault)
	if addr == "" {
		return nil
	}
	return a.txm.Do(ctx, func(tx *Tx) error {
		_, found, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyVault)
		if err != nil || found {
			return err
		}
		return tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyVault, addr, "bootstrap", "custody vault")
	})
}

// SetAutomationEnabled switches emergency withdrawal automation
func (a *AdminService) SetAutomationEnabled(ctx context.Context, caller string, enabled bool) error {
	return a.set(ctx, caller, "admin.automation_set", models.ConfigKeyAutomationEnabled, strconv.FormatBool(enabled))
}

// Status returns the administrative snapshot
func (a *AdminService) Status(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{}
	for key, dst := range map[string]*string{
		models.ConfigKeyOwner:          &status.Owner,
		models.ConfigKeyPendingOwner:   &status.PendingOwner,
		models.ConfigKeyVault:          &status.Vault,
		models.ConfigKeyBridgeRouter:   &status.BridgeRouter,
		models.ConfigKeyBridgeFeeToken: &status.BridgeFeeToken,
	} {
		value, _, err := a.repos.GlobalConfig.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		*dst = value
	}

	var err error
	if status.AutomationEnabled, err = automationEnabled(ctx, a.repos, a.automationDefault); err != nil {
		return nil, err
	}
	if status.AutomationCursor, err = loadCursor(ctx, a.repos); err != nil {
		return nil, err
	}
	status.BreakerState, status.BreakerFailures = a.breaker.State()

	supply, err := a.repos.Tokens.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	status.TotalSupply = supply.String()
	return status, nil
}

// AuditLog returns recent audit events of one kind
func (a *AdminService) AuditLog(ctx context.Context, kind string, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return a.repos.Audit.FindByKind(ctx, kind, limit)
}

func (a *AdminService) set(ctx context.Context, caller, kind, key, value string) error {
	return a.txm.Do(ctx, func(tx *Tx) error {
		if err := a.access.requireOperatorIn(ctx, tx.Repos, caller); err != nil {
			return err
		}
		previous, _, err := tx.Repos.GlobalConfig.Get(ctx, key)
		if err != nil {
			return err
		}
		actor := utils.NormalizeAddress(caller)
		if err := tx.Repos.GlobalConfig.Set(ctx, key, value, actor, ""); err != nil {
			return err
		}
		return tx.Record(ctx, kind, actor, key, map[string]interface{}{
			"value":    value,
			"previous": previous,
		})
	})
}
