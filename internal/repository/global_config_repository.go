package repository

import (
	"context"
	"errors"

	"collateral-backend/internal/models"

	"gorm.io/gorm"
)

// GlobalConfigRepository administrative key/value storage
type GlobalConfigRepository interface {
	WithTx(tx *gorm.DB) GlobalConfigRepository

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value, updatedBy, description string) error
}

type globalConfigRepository struct {
	db *gorm.DB
}

// NewGlobalConfigRepository creates a new GlobalConfigRepository instance
func NewGlobalConfigRepository(db *gorm.DB) GlobalConfigRepository {
	return &globalConfigRepository{db: db}
}

func (r *globalConfigRepository) WithTx(tx *gorm.DB) GlobalConfigRepository {
	return &globalConfigRepository{db: tx}
}

// Get reports false when the key was never set
func (r *globalConfigRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var cfg models.GlobalConfig
	err := r.db.WithContext(ctx).Where("config_key = ?", key).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cfg.ConfigValue, true, nil
}

// Set creates or overwrites a key
func (r *globalConfigRepository) Set(ctx context.Context, key, value, updatedBy, description string) error {
	var cfg models.GlobalConfig
	err := r.db.WithContext(ctx).Where("config_key = ?", key).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.GlobalConfig{
			ConfigKey:   key,
			ConfigValue: value,
			Description: description,
			UpdatedBy:   updatedBy,
		}
		return r.db.WithContext(ctx).Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	cfg.ConfigValue = value
	cfg.UpdatedBy = updatedBy
	if description != "" {
		cfg.Description = description
	}
	return r.db.WithContext(ctx).Save(&cfg).Error
}
