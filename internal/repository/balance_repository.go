package repository

import (
	"context"
	"errors"
	"fmt"

	"collateral-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrBalanceTooLow returned when a debit would go negative
var ErrBalanceTooLow = errors.New("balance too low")

// TokenRepository stable token balances of the local domain
type TokenRepository interface {
	WithTx(tx *gorm.DB) TokenRepository

	BalanceOf(ctx context.Context, address string) (decimal.Decimal, error)
	Credit(ctx context.Context, address string, amount decimal.Decimal) error
	Debit(ctx context.Context, address string, amount decimal.Decimal) error
	TotalSupply(ctx context.Context) (decimal.Decimal, error)
}

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a new TokenRepository instance
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) WithTx(tx *gorm.DB) TokenRepository {
	return &tokenRepository{db: tx}
}

func (r *tokenRepository) find(ctx context.Context, address string) (*models.TokenBalance, error) {
	var balance models.TokenBalance
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *tokenRepository) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	balance, err := r.find(ctx, address)
	if err != nil || balance == nil {
		return decimal.Zero, err
	}
	return balance.Amount, nil
}

func (r *tokenRepository) Credit(ctx context.Context, address string, amount decimal.Decimal) error {
	balance, err := r.find(ctx, address)
	if err != nil {
		return err
	}
	if balance == nil {
		return r.db.WithContext(ctx).Create(&models.TokenBalance{Address: address, Amount: amount}).Error
	}
	balance.Amount = balance.Amount.Add(amount)
	return r.db.WithContext(ctx).Save(balance).Error
}

func (r *tokenRepository) Debit(ctx context.Context, address string, amount decimal.Decimal) error {
	balance, err := r.find(ctx, address)
	if err != nil {
		return err
	}
	if balance == nil || balance.Amount.LessThan(amount) {
		return fmt.Errorf("debit %s from %s: %w", amount, address, ErrBalanceTooLow)
	}
	balance.Amount = balance.Amount.Sub(amount)
	return r.db.WithContext(ctx).Save(balance).Error
}

// TotalSupply sums every balance; amounts are stored as text so the sum runs here
func (r *tokenRepository) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	var balances []models.TokenBalance
	if err := r.db.WithContext(ctx).Find(&balances).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Amount)
	}
	return total, nil
}

// CustodyRepository collateral held by the vault
type CustodyRepository interface {
	WithTx(tx *gorm.DB) CustodyRepository

	Balance(ctx context.Context, vault, owner, asset string) (decimal.Decimal, error)
	Lock(ctx context.Context, vault, owner, asset string, amount decimal.Decimal) error
	Release(ctx context.Context, vault, owner, asset string, amount decimal.Decimal) error
	HeldAssets(ctx context.Context) ([]string, error)
}

type custodyRepository struct {
	db *gorm.DB
}

// NewCustodyRepository creates a new CustodyRepository instance
func NewCustodyRepository(db *gorm.DB) CustodyRepository {
	return &custodyRepository{db: db}
}

func (r *custodyRepository) WithTx(tx *gorm.DB) CustodyRepository {
	return &custodyRepository{db: tx}
}

func (r *custodyRepository) find(ctx context.Context, vault, owner, asset string) (*models.CustodyBalance, error) {
	var balance models.CustodyBalance
	err := r.db.WithContext(ctx).
		Where("vault = ? AND owner = ? AND asset = ?", vault, owner, asset).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *custodyRepository) Balance(ctx context.Context, vault, owner, asset string) (decimal.Decimal, error) {
	balance, err := r.find(ctx, vault, owner, asset)
	if err != nil || balance == nil {
		return decimal.Zero, err
	}
	return balance.Amount, nil
}

func (r *custodyRepository) Lock(ctx context.Context, vault, owner, asset string, amount decimal.Decimal) error {
	balance, err := r.find(ctx, vault, owner, asset)
	if err != nil {
		return err
	}
	if balance == nil {
		return r.db.WithContext(ctx).Create(&models.CustodyBalance{
			Vault: vault, Owner: owner, Asset: asset, Amount: amount,
		}).Error
	}
	balance.Amount = balance.Amount.Add(amount)
	return r.db.WithContext(ctx).Save(balance).Error
}

func (r *custodyRepository) Release(ctx context.Context, vault, owner, asset string, amount decimal.Decimal) error {
	balance, err := r.find(ctx, vault, owner, asset)
	if err != nil {
		return err
	}
	if balance == nil || balance.Amount.LessThan(amount) {
		return fmt.Errorf("release %s %s for %s: %w", amount, asset, owner, ErrBalanceTooLow)
	}
	balance.Amount = balance.Amount.Sub(amount)
	return r.db.WithContext(ctx).Save(balance).Error
}

// HeldAssets distinct collateral assets with a non-zero balance, fee rows excluded
func (r *custodyRepository) HeldAssets(ctx context.Context) ([]string, error) {
	var rows []models.CustodyBalance
	err := r.db.WithContext(ctx).
		Select("asset", "amount").
		Where("owner <> ?", models.FeeAccount).
		Order("asset").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Amount.IsZero() {
			continue
		}
		if n := len(assets); n > 0 && assets[n-1] == row.Asset {
			continue
		}
		assets = append(assets, row.Asset)
	}
	return assets, nil
}
