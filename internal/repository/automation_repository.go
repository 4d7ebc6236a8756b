package repository

import (
	"context"
	"errors"

	"collateral-backend/internal/models"

	"gorm.io/gorm"
)

// AutomationRepository round-robin registry storage
type AutomationRepository interface {
	WithTx(tx *gorm.DB) AutomationRepository

	GetByAddress(ctx context.Context, address string) (*models.AutomationUser, error)
	Create(ctx context.Context, user *models.AutomationUser) error
	SetOptIn(ctx context.Context, address string, optedIn bool) error
	ListAll(ctx context.Context) ([]*models.AutomationUser, error)
	Count(ctx context.Context) (int64, error)
}

type automationRepository struct {
	db *gorm.DB
}

// NewAutomationRepository creates a new AutomationRepository instance
func NewAutomationRepository(db *gorm.DB) AutomationRepository {
	return &automationRepository{db: db}
}

func (r *automationRepository) WithTx(tx *gorm.DB) AutomationRepository {
	return &automationRepository{db: tx}
}

// GetByAddress returns nil, nil when the user never opted in
func (r *automationRepository) GetByAddress(ctx context.Context, address string) (*models.AutomationUser, error) {
	var user models.AutomationUser
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *automationRepository) Create(ctx context.Context, user *models.AutomationUser) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *automationRepository) SetOptIn(ctx context.Context, address string, optedIn bool) error {
	return r.db.WithContext(ctx).
		Model(&models.AutomationUser{}).
		Where("address = ?", address).
		Update("opted_in", optedIn).Error
}

// ListAll returns every registered user in insertion order
func (r *automationRepository) ListAll(ctx context.Context) ([]*models.AutomationUser, error) {
	var users []*models.AutomationUser
	err := r.db.WithContext(ctx).Order("seq ASC").Find(&users).Error
	return users, err
}

func (r *automationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AutomationUser{}).Count(&count).Error
	return count, err
}
