package repository

import (
	"context"
	"errors"
	"fmt"

	"collateral-backend/internal/models"

	"gorm.io/gorm"
)

// BridgeRepository routes and message log storage
type BridgeRepository interface {
	WithTx(tx *gorm.DB) BridgeRepository

	GetRoute(ctx context.Context, domain uint64) (*models.BridgeRoute, error)
	SaveRoute(ctx context.Context, route *models.BridgeRoute) error
	ListRoutes(ctx context.Context) ([]*models.BridgeRoute, error)

	CreateMessage(ctx context.Context, msg *models.BridgeMessage) error
	GetMessage(ctx context.Context, messageID string) (*models.BridgeMessage, error)
	FindPendingRelay(ctx context.Context, limit int) ([]*models.BridgeMessage, error)
	UpdateRelayStatus(ctx context.Context, id uint64, status models.RelayStatus, lastErr string) error
}

type bridgeRepository struct {
	db *gorm.DB
}

// NewBridgeRepository creates a new BridgeRepository instance
func NewBridgeRepository(db *gorm.DB) BridgeRepository {
	return &bridgeRepository{db: db}
}

func (r *bridgeRepository) WithTx(tx *gorm.DB) BridgeRepository {
	return &bridgeRepository{db: tx}
}

// GetRoute returns nil, nil for an unknown domain
func (r *bridgeRepository) GetRoute(ctx context.Context, domain uint64) (*models.BridgeRoute, error) {
	var route models.BridgeRoute
	err := r.db.WithContext(ctx).Where("domain = ?", domain).First(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

// SaveRoute inserts or updates the route keyed by domain
func (r *bridgeRepository) SaveRoute(ctx context.Context, route *models.BridgeRoute) error {
	return r.db.WithContext(ctx).Save(route).Error
}

func (r *bridgeRepository) ListRoutes(ctx context.Context) ([]*models.BridgeRoute, error) {
	var routes []*models.BridgeRoute
	err := r.db.WithContext(ctx).Order("domain ASC").Find(&routes).Error
	return routes, err
}

func (r *bridgeRepository) CreateMessage(ctx context.Context, msg *models.BridgeMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// GetMessage returns nil, nil for an unseen message id
func (r *bridgeRepository) GetMessage(ctx context.Context, messageID string) (*models.BridgeMessage, error) {
	var msg models.BridgeMessage
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindPendingRelay lists outbound messages burned but not yet published
func (r *bridgeRepository) FindPendingRelay(ctx context.Context, limit int) ([]*models.BridgeMessage, error) {
	var msgs []*models.BridgeMessage
	err := r.db.WithContext(ctx).
		Where("direction = ? AND status = ?", models.DirectionOutbound, models.RelayStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *bridgeRepository) UpdateRelayStatus(ctx context.Context, id uint64, status models.RelayStatus, lastErr string) error {
	result := r.db.WithContext(ctx).
		Model(&models.BridgeMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         status,
			"last_error":     lastErr,
			"relay_attempts": gorm.Expr("relay_attempts + ?", 1),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update relay status of message %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no rows updated for bridge message %d", id)
	}
	return nil
}
