package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"
	"collateral-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Ratio bounds in whole percent
const (
	MinCollateralRatio = 125
	MaxCollateralRatio = 200
)

// PriceOracle USD price lookup for collateral assets
type PriceOracle interface {
	PriceUSD(ctx context.Context, asset string) (decimal.Decimal, error)
}

// PositionLedger per-user collateral positions. Every mutator is compare-and-set.
type PositionLedger struct {
	txm    *TxManager
	tx     *Tx
	repos  repository.Repositories
	prices PriceOracle
	now    func() time.Time
	log    *logrus.Entry
}

// NewPositionLedger creates a ledger bound to the base connection
func NewPositionLedger(txm *TxManager, prices PriceOracle) *PositionLedger {
	return &PositionLedger{
		txm:    txm,
		repos:  txm.Repos(),
		prices: prices,
		now:    time.Now,
		log:    logrus.WithField("component", "position_ledger"),
	}
}

// SetClock overrides the ledger clock
func (l *PositionLedger) SetClock(now func() time.Time) {
	l.now = now
}

// WithTx binds the ledger to an open unit of work
func (l *PositionLedger) WithTx(tx *Tx) *PositionLedger {
	bound := *l
	bound.tx = tx
	bound.repos = tx.Repos
	return &bound
}

func (l *PositionLedger) run(ctx context.Context, fn func(tx *Tx) error) error {
	if l.tx != nil {
		return fn(l.tx)
	}
	return l.txm.Do(ctx, fn)
}

// OpenPosition validates a basket, values it and records a new position with no request attached
func (l *PositionLedger) OpenPosition(ctx context.Context, owner string, tokens []string, amounts []decimal.Decimal) (*models.Position, error) {
	owner, err := validateAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	if len(tokens) == 0 || len(amounts) == 0 {
		return nil, ErrEmptyBasket
	}
	if len(tokens) != len(amounts) {
		return nil, fmt.Errorf("%d tokens, %d amounts: %w", len(tokens), len(amounts), ErrLengthMismatch)
	}

	normalized := make([]string, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for i, token := range tokens {
		t, err := validateAddress(token)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("token %s: %w", t, ErrDuplicateAsset)
		}
		seen[t] = struct{}{}
		if !amounts[i].IsPositive() {
			return nil, fmt.Errorf("amount %d: %w", i, ErrInvalidAmount)
		}
		normalized[i] = t
	}

	total := decimal.Zero
	for i, token := range normalized {
		price, err := l.prices.PriceUSD(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to price %s: %w", token, err)
		}
		total = total.Add(price.Mul(amounts[i]))
	}

	basket := models.NewBasket(normalized, amounts)
	position := &models.Position{
		Owner:         owner,
		Basket:        basket,
		TotalValueUSD: total,
		MintedAmount:  decimal.Zero,
		CreatedAt:     l.now(),
	}

	err = l.run(ctx, func(tx *Tx) error {
		vault, _, err := tx.Repos.GlobalConfig.Get(ctx, models.ConfigKeyVault)
		if err != nil {
			return err
		}
		position.Vault = vault
		if err := tx.Repos.Positions.Create(ctx, position); err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}
		return tx.Record(ctx, "position.opened", owner, positionSubject(position.ID), map[string]interface{}{
			"position_id":     position.ID,
			"tokens":          basket.Tokens(),
			"amounts":         decimalStrings(basket.Amounts()),
			"total_value_usd": total.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"position_id": position.ID,
		"owner":       owner,
		"value_usd":   total.String(),
	}).Info("📥 Position opened")
	return position, nil
}

// AttachRequest links a request to a position that has none pending
func (l *PositionLedger) AttachRequest(ctx context.Context, positionID, requestID uint64) error {
	return l.run(ctx, func(tx *Tx) error {
		ok, err := tx.Repos.Positions.AttachRequest(ctx, positionID, requestID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if _, err := getPosition(ctx, tx.Repos, positionID); err != nil {
			return err
		}
		return fmt.Errorf("position %d already has a pending request or was withdrawn: %w", positionID, ErrInvalidPosition)
	})
}

// finalize sets the decided ratio and minted amount. Only the coordinator resolves requests.
func (l *PositionLedger) finalize(ctx context.Context, positionID, requestID uint64, ratio int, minted decimal.Decimal) (*models.Position, error) {
	if ratio < MinCollateralRatio || ratio > MaxCollateralRatio {
		return nil, fmt.Errorf("ratio %d: %w", ratio, ErrInvalidRatio)
	}
	if minted.IsNegative() {
		return nil, fmt.Errorf("minted %s: %w", minted, ErrInvalidAmount)
	}

	var position *models.Position
	err := l.run(ctx, func(tx *Tx) error {
		ok, err := tx.Repos.Positions.Finalize(ctx, positionID, requestID, ratio, minted)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("position %d, request %d: %w", positionID, requestID, ErrNoPendingRequest)
		}
		if position, err = getPosition(ctx, tx.Repos, positionID); err != nil {
			return err
		}
		return tx.Record(ctx, "position.finalized", position.Owner, positionSubject(positionID), map[string]interface{}{
			"position_id":      positionID,
			"request_id":       requestID,
			"collateral_ratio": ratio,
			"minted_amount":    minted.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return position, nil
}

// ClearForWithdrawal empties the position and returns the released basket.
// On an already cleared position it changes nothing and reports alreadyEmpty.
func (l *PositionLedger) ClearForWithdrawal(ctx context.Context, positionID uint64) (models.Basket, bool, error) {
	var released models.Basket
	alreadyEmpty := false

	err := l.run(ctx, func(tx *Tx) error {
		position, err := getPosition(ctx, tx.Repos, positionID)
		if err != nil {
			return err
		}
		if position.WithdrawnAt != nil || position.Basket.IsEmpty() {
			alreadyEmpty = true
			return nil
		}
		ok, err := tx.Repos.Positions.ClearForWithdrawal(ctx, positionID, l.now())
		if err != nil {
			return err
		}
		if !ok {
			alreadyEmpty = true
			return nil
		}
		released = position.Basket
		return tx.Record(ctx, "position.cleared", position.Owner, positionSubject(positionID), map[string]interface{}{
			"position_id":   positionID,
			"tokens":        released.Tokens(),
			"amounts":       decimalStrings(released.Amounts()),
			"was_pending":   position.HasPendingRequest,
			"minted_before": position.MintedAmount.String(),
		})
	})
	if err != nil {
		return nil, false, err
	}
	return released, alreadyEmpty, nil
}

// GetPosition returns one position
func (l *PositionLedger) GetPosition(ctx context.Context, positionID uint64) (*models.Position, error) {
	return getPosition(ctx, l.repos, positionID)
}

// PositionsOf lists an owner's positions
func (l *PositionLedger) PositionsOf(ctx context.Context, owner string) ([]*models.Position, error) {
	owner, err := validateAddress(owner)
	if err != nil {
		return nil, err
	}
	return l.repos.Positions.FindByOwner(ctx, owner)
}

// Summary aggregates an owner's positions
func (l *PositionLedger) Summary(ctx context.Context, owner string) (*models.PositionSummary, error) {
	positions, err := l.PositionsOf(ctx, owner)
	if err != nil {
		return nil, err
	}
	summary := &models.PositionSummary{
		TotalValue:  decimal.Zero,
		TotalMinted: decimal.Zero,
	}
	for _, p := range positions {
		summary.Count++
		if !p.IsActive() {
			continue
		}
		summary.ActiveCount++
		summary.TotalValue = summary.TotalValue.Add(p.TotalValueUSD)
		summary.TotalMinted = summary.TotalMinted.Add(p.MintedAmount)
	}
	return summary, nil
}

func getPosition(ctx context.Context, repos repository.Repositories, id uint64) (*models.Position, error) {
	position, err := repos.Positions.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("position %d: %w", id, ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position %d: %w", id, err)
	}
	return position, nil
}

// validateAddress returns the normalized address or a validation error
func validateAddress(address string) (string, error) {
	if address == "" {
		return "", ErrZeroAddress
	}
	normalized := utils.NormalizeAddress(address)
	if normalized == "" {
		return "", fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}
	if utils.IsZeroAddress(normalized) {
		return "", ErrZeroAddress
	}
	return normalized, nil
}

func positionSubject(id uint64) string {
	return fmt.Sprintf("position:%d", id)
}

func decimalStrings(values []decimal.Decimal) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}
