package services

import (
	"context"
	"fmt"

	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// AccessControl owner handshake {owner, pendingOwner} plus the configured operator set
type AccessControl struct {
	txm       *TxManager
	repos     repository.Repositories
	operators map[string]struct{}
	log       *logrus.Entry
}

// NewAccessControl creates the access controller. Invalid operator addresses are skipped.
func NewAccessControl(txm *TxManager, operators []string) *AccessControl {
	ac := &AccessControl{
		txm:       txm,
		repos:     txm.Repos(),
		operators: make(map[string]struct{}, len(operators)),
		log:       logrus.WithField("component", "access_control"),
	}
	for _, op := range operators {
		addr, err := validateAddress(op)
		if err != nil {
			ac.log.WithField("operator", op).Warn("⚠️ Ignoring invalid operator address")
			continue
		}
		ac.operators[addr] = struct{}{}
	}
	return ac
}

// Bootstrap persists the initial owner when none is stored yet
func (ac *AccessControl) Bootstrap(ctx context.Context, owner string) error {
	if owner == "" {
		return nil
	}
	addr, err := validateAddress(owner)
	if err != nil {
		return fmt.Errorf("initial owner: %w", err)
	}
	return ac.txm.Do(ctx, func(tx *Tx) error {
		_, found, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyOwner)
		if err != nil || found {
			return err
		}
		if err := tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyOwner, addr, "bootstrap", "contract owner"); err != nil {
			return err
		}
		return tx.Record(ctx, "ownership.bootstrapped", addr, "owner", map[string]interface{}{"owner": addr})
	})
}

// Owner returns the current owner, or "" when none is set
func (ac *AccessControl) Owner(ctx context.Context) (string, error) {
	owner, _, err := ac.repos.GlobalConfig.Get(ctx, models.ConfigKeyOwner)
	return owner, err
}

// PendingOwner returns the address invited to take ownership, or ""
func (ac *AccessControl) PendingOwner(ctx context.Context) (string, error) {
	pending, _, err := ac.repos.GlobalConfig.Get(ctx, models.ConfigKeyPendingOwner)
	return pending, err
}

// IsOwner reports whether caller is the current owner
func (ac *AccessControl) IsOwner(ctx context.Context, caller string) (bool, error) {
	return ac.ownerIn(ctx, ac.repos, caller)
}

// IsOperator reports whether caller may run privileged operations. The owner is always an operator.
func (ac *AccessControl) IsOperator(ctx context.Context, caller string) (bool, error) {
	return ac.operatorIn(ctx, ac.repos, caller)
}

func (ac *AccessControl) ownerIn(ctx context.Context, repos repository.Repositories, caller string) (bool, error) {
	owner, _, err := repos.GlobalConfig.Get(ctx, models.ConfigKeyOwner)
	if err != nil {
		return false, err
	}
	return owner != "" && sameAddress(owner, caller), nil
}

// operatorIn checks against repos so it can run inside an open unit of work
func (ac *AccessControl) operatorIn(ctx context.Context, repos repository.Repositories, caller string) (bool, error) {
	addr, err := validateAddress(caller)
	if err != nil {
		return false, nil
	}
	if _, ok := ac.operators[addr]; ok {
		return true, nil
	}
	return ac.ownerIn(ctx, repos, addr)
}

// RequireOperator fails with ErrUnauthorized unless caller is an operator
func (ac *AccessControl) RequireOperator(ctx context.Context, caller string) error {
	return ac.requireOperatorIn(ctx, ac.repos, caller)
}

func (ac *AccessControl) requireOperatorIn(ctx context.Context, repos repository.Repositories, caller string) error {
	ok, err := ac.operatorIn(ctx, repos, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not an operator: %w", caller, ErrUnauthorized)
	}
	return nil
}

// TransferOwnership invites newOwner; it takes effect on AcceptOwnership
func (ac *AccessControl) TransferOwnership(ctx context.Context, caller, newOwner string) error {
	addr, err := validateAddress(newOwner)
	if err != nil {
		return fmt.Errorf("new owner: %w", err)
	}
	return ac.txm.Do(ctx, func(tx *Tx) error {
		owner, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyOwner)
		if err != nil {
			return err
		}
		if owner == "" || !sameAddress(owner, caller) {
			return fmt.Errorf("only the owner can transfer ownership: %w", ErrUnauthorized)
		}
		if err := tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyPendingOwner, addr, owner, "pending owner"); err != nil {
			return err
		}
		return tx.Record(ctx, "ownership.transfer_started", owner, "owner", map[string]interface{}{
			"owner":         owner,
			"pending_owner": addr,
		})
	})
}

// AcceptOwnership completes the handshake; only the pending owner may call it
func (ac *AccessControl) AcceptOwnership(ctx context.Context, caller string) error {
	return ac.txm.Do(ctx, func(tx *Tx) error {
		pending, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyPendingOwner)
		if err != nil {
			return err
		}
		if pending == "" || !sameAddress(pending, caller) {
			return fmt.Errorf("only the pending owner can accept: %w", ErrUnauthorized)
		}
		previous, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyOwner)
		if err != nil {
			return err
		}
		if err := tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyOwner, pending, pending, ""); err != nil {
			return err
		}
		if err := tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyPendingOwner, "", pending, ""); err != nil {
			return err
		}
		return tx.Record(ctx, "ownership.transferred", pending, "owner", map[string]interface{}{
			"previous_owner": previous,
			"owner":          pending,
		})
	})
}

// CancelTransfer drops the pending invitation. The owner cancels; the pending owner rejects.
func (ac *AccessControl) CancelTransfer(ctx context.Context, caller string) error {
	return ac.txm.Do(ctx, func(tx *Tx) error {
		owner, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyOwner)
		if err != nil {
			return err
		}
		pending, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyPendingOwner)
		if err != nil {
			return err
		}
		if pending == "" {
			return fmt.Errorf("no ownership transfer in progress: %w", ErrNotYetEligible)
		}
		if !sameAddress(owner, caller) && !sameAddress(pending, caller) {
			return fmt.Errorf("only the owner or pending owner can cancel: %w", ErrUnauthorized)
		}
		if err := tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyPendingOwner, "", caller, ""); err != nil {
			return err
		}
		return tx.Record(ctx, "ownership.transfer_cancelled", caller, "owner", map[string]interface{}{
			"owner":         owner,
			"pending_owner": pending,
		})
	})
}

func sameAddress(a, b string) bool {
	na, errA := validateAddress(a)
	nb, errB := validateAddress(b)
	return errA == nil && errB == nil && na == nb
}
