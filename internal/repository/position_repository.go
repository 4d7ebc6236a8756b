package repository

import (
	"context"
	"fmt"
	"time"

	"collateral-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PositionRepository defines the interface for Position data access.
// The mutators are compare-and-set: they report whether the guarded row matched.
type PositionRepository interface {
	WithTx(tx *gorm.DB) PositionRepository

	Create(ctx context.Context, position *models.Position) error
	GetByID(ctx context.Context, id uint64) (*models.Position, error)
	FindByOwner(ctx context.Context, owner string) ([]*models.Position, error)
	FindPendingByOwner(ctx context.Context, owner string) ([]*models.Position, error)

	AttachRequest(ctx context.Context, id, requestID uint64) (bool, error)
	Finalize(ctx context.Context, id, requestID uint64, ratio int, minted decimal.Decimal) (bool, error)
	ClearForWithdrawal(ctx context.Context, id uint64, at time.Time) (bool, error)
}

type positionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new PositionRepository instance
func NewPositionRepository(db *gorm.DB) PositionRepository {
	return &positionRepository{db: db}
}

func (r *positionRepository) WithTx(tx *gorm.DB) PositionRepository {
	return &positionRepository{db: tx}
}

// Create inserts a new position
func (r *positionRepository) Create(ctx context.Context, position *models.Position) error {
	return r.db.WithContext(ctx).Create(position).Error
}

// GetByID retrieves a position by ID
func (r *positionRepository) GetByID(ctx context.Context, id uint64) (*models.Position, error) {
	var position models.Position
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&position).Error; err != nil {
		return nil, err
	}
	return &position, nil
}

// FindByOwner lists an owner's positions in creation order
func (r *positionRepository) FindByOwner(ctx context.Context, owner string) ([]*models.Position, error) {
	var positions []*models.Position
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("id ASC").
		Find(&positions).Error
	return positions, err
}

// FindPendingByOwner lists an owner's positions still waiting on a request
func (r *positionRepository) FindPendingByOwner(ctx context.Context, owner string) ([]*models.Position, error) {
	var positions []*models.Position
	err := r.db.WithContext(ctx).
		Where("owner = ? AND has_pending_request = ? AND withdrawn_at IS NULL", owner, true).
		Order("id ASC").
		Find(&positions).Error
	return positions, err
}

// AttachRequest marks the position pending on requestID, only if nothing is pending yet
func (r *positionRepository) AttachRequest(ctx context.Context, id, requestID uint64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND has_pending_request = ? AND collateral_ratio = ? AND withdrawn_at IS NULL", id, false, 0).
		Updates(map[string]interface{}{
			"request_id":          requestID,
			"has_pending_request": true,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to attach request %d to position %d: %w", requestID, id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Finalize records the decided ratio and minted amount, only while requestID is pending
func (r *positionRepository) Finalize(ctx context.Context, id, requestID uint64, ratio int, minted decimal.Decimal) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND request_id = ? AND has_pending_request = ? AND withdrawn_at IS NULL", id, requestID, true).
		Updates(map[string]interface{}{
			"collateral_ratio":    ratio,
			"minted_amount":       minted,
			"has_pending_request": false,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to finalize position %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ClearForWithdrawal empties the position once; later calls match nothing
func (r *positionRepository) ClearForWithdrawal(ctx context.Context, id uint64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND withdrawn_at IS NULL", id).
		Updates(map[string]interface{}{
			"basket":              models.Basket{},
			"minted_amount":       decimal.Zero,
			"collateral_ratio":    0,
			"has_pending_request": false,
			"withdrawn_at":        at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to clear position %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}
