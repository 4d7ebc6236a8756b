package services

import (
	"context"
	"errors"
	"fmt"

	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DepositService custody entry and the user withdrawal path
type DepositService struct {
	txm         *TxManager
	ledger      *PositionLedger
	coordinator *RiskRequestCoordinator
	log         *logrus.Entry
}

// NewDepositService creates a new DepositService
func NewDepositService(txm *TxManager, ledger *PositionLedger, coordinator *RiskRequestCoordinator) *DepositService {
	return &DepositService{
		txm:         txm,
		ledger:      ledger,
		coordinator: coordinator,
		log:         logrus.WithField("component", "deposit_service"),
	}
}

// DepositResult position and request created by one deposit
type DepositResult struct {
	Position *models.Position    `json:"position"`
	Request  *models.RiskRequest `json:"request"`
}

// DepositBasket locks the basket in the vault, opens a position and submits its risk request
// as one unit of work
func (s *DepositService) DepositBasket(ctx context.Context, owner string, tokens []string, amounts []decimal.Decimal, engineName string, feePayment decimal.Decimal) (*DepositResult, error) {
	engine, ok := models.ParseEngine(engineName)
	if !ok {
		return nil, fmt.Errorf("%q: %w", engineName, ErrInvalidEngine)
	}

	var result DepositResult
	err := s.txm.Do(ctx, func(tx *Tx) error {
		vault, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyVault)
		if err != nil {
			return err
		}
		if vault == "" {
			return ErrVaultNotSet
		}

		position, err := s.ledger.WithTx(tx).OpenPosition(ctx, owner, tokens, amounts)
		if err != nil {
			return err
		}
		for _, entry := range position.Basket {
			if err := tx.Repos.Custody.Lock(ctx, vault, position.Owner, entry.Token, entry.Amount); err != nil {
				return fmt.Errorf("failed to lock %s: %w", entry.Token, err)
			}
		}

		request, err := s.coordinator.Submit(ctx, tx, position, engine, feePayment)
		if err != nil {
			return err
		}
		if position, err = getPosition(ctx, tx.Repos, position.ID); err != nil {
			return err
		}
		result = DepositResult{Position: position, Request: request}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PositionsOpened.Inc()
	s.log.WithFields(logrus.Fields{
		"owner":       result.Position.Owner,
		"position_id": result.Position.ID,
		"request_id":  result.Request.ID,
	}).Info("💰 Basket deposited")
	return &result, nil
}

// Withdraw repays the minted amount and releases the basket to the owner.
// Positions still waiting on the oracle leave through the manual or emergency path.
func (s *DepositService) Withdraw(ctx context.Context, owner string, positionID uint64) (models.Basket, error) {
	var released models.Basket
	err := s.txm.Do(ctx, func(tx *Tx) error {
		position, err := getPosition(ctx, tx.Repos, positionID)
		if err != nil {
			return err
		}
		if !sameAddress(position.Owner, owner) {
			return fmt.Errorf("caller does not own position %d: %w", positionID, ErrUnauthorized)
		}
		if position.HasPendingRequest {
			return fmt.Errorf("position %d is waiting on its risk request: %w", positionID, ErrNotYetEligible)
		}
		if position.WithdrawnAt != nil {
			return fmt.Errorf("position %d already withdrawn: %w", positionID, ErrInvalidPosition)
		}

		if position.MintedAmount.IsPositive() {
			if err := tx.Repos.Tokens.Debit(ctx, position.Owner, position.MintedAmount); err != nil {
				if errors.Is(err, repository.ErrBalanceTooLow) {
					return fmt.Errorf("repay %s: %w", position.MintedAmount, ErrInsufficientBalance)
				}
				return err
			}
		}

		basket, alreadyEmpty, err := s.ledger.WithTx(tx).ClearForWithdrawal(ctx, positionID)
		if err != nil {
			return err
		}
		if alreadyEmpty {
			return fmt.Errorf("position %d already withdrawn: %w", positionID, ErrInvalidPosition)
		}
		if err := releaseCollateral(ctx, tx, position, basket); err != nil {
			return err
		}
		released = basket
		return tx.Record(ctx, "position.withdrawn", position.Owner, positionSubject(positionID), map[string]interface{}{
			"position_id": positionID,
			"repaid":      position.MintedAmount.String(),
			"path":        "user",
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"owner":       owner,
		"position_id": positionID,
	}).Info("📤 Position withdrawn by owner")
	return released, nil
}

// releaseCollateral returns a cleared basket from vault custody to the owner
func releaseCollateral(ctx context.Context, tx *Tx, position *models.Position, basket models.Basket) error {
	for _, entry := range basket {
		if !entry.Amount.IsPositive() {
			continue
		}
		if err := tx.Repos.Custody.Release(ctx, position.Vault, position.Owner, entry.Token, entry.Amount); err != nil {
			if errors.Is(err, repository.ErrBalanceTooLow) {
				return fmt.Errorf("release %s: %w", entry.Token, ErrInsufficientBalance)
			}
			return err
		}
	}
	return nil
}
