package repository

import (
	"context"
	"fmt"
	"time"

	"collateral-backend/internal/models"

	"gorm.io/gorm"
)

// ProcessResult fields written when a request is resolved
type ProcessResult struct {
	Outcome    models.RequestOutcome
	Ratio      int
	Confidence int
	Source     string
	Deviation  string
	At         time.Time
}

// RiskRequestRepository defines the interface for RiskRequest data access
type RiskRequestRepository interface {
	WithTx(tx *gorm.DB) RiskRequestRepository

	Create(ctx context.Context, request *models.RiskRequest) error
	GetByID(ctx context.Context, id uint64) (*models.RiskRequest, error)
	FindByUser(ctx context.Context, user string) ([]*models.RiskRequest, error)
	FindOpen(ctx context.Context) ([]*models.RiskRequest, error)

	MarkProcessed(ctx context.Context, id uint64, result ProcessResult) (bool, error)
	MarkTimedOut(ctx context.Context, id uint64) (bool, error)
	MarkDispatchFailed(ctx context.Context, id uint64) (bool, error)
	MarkManualRequested(ctx context.Context, id uint64, at time.Time) (bool, error)
}

type riskRequestRepository struct {
	db *gorm.DB
}

// NewRiskRequestRepository creates a new RiskRequestRepository instance
func NewRiskRequestRepository(db *gorm.DB) RiskRequestRepository {
	return &riskRequestRepository{db: db}
}

func (r *riskRequestRepository) WithTx(tx *gorm.DB) RiskRequestRepository {
	return &riskRequestRepository{db: tx}
}

// Create appends a request; the database assigns the next id
func (r *riskRequestRepository) Create(ctx context.Context, request *models.RiskRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// GetByID retrieves a request by ID
func (r *riskRequestRepository) GetByID(ctx context.Context, id uint64) (*models.RiskRequest, error) {
	var request models.RiskRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// FindByUser lists a user's requests, newest first
func (r *riskRequestRepository) FindByUser(ctx context.Context, user string) ([]*models.RiskRequest, error) {
	var requests []*models.RiskRequest
	err := r.db.WithContext(ctx).
		Where("user_address = ?", user).
		Order("id DESC").
		Find(&requests).Error
	return requests, err
}

// FindOpen lists unprocessed requests not yet flagged as timed out
func (r *riskRequestRepository) FindOpen(ctx context.Context) ([]*models.RiskRequest, error) {
	var requests []*models.RiskRequest
	err := r.db.WithContext(ctx).
		Where("processed = ? AND timed_out = ?", false, false).
		Order("id ASC").
		Find(&requests).Error
	return requests, err
}

// MarkProcessed resolves the request exactly once
func (r *riskRequestRepository) MarkProcessed(ctx context.Context, id uint64, res ProcessResult) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RiskRequest{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": res.At,
			"outcome":      res.Outcome,
			"ratio":        res.Ratio,
			"confidence":   res.Confidence,
			"source":       res.Source,
			"deviation":    res.Deviation,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark request %d processed: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkTimedOut flags an open request as timed out
func (r *riskRequestRepository) MarkTimedOut(ctx context.Context, id uint64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RiskRequest{}).
		Where("id = ? AND processed = ? AND timed_out = ?", id, false, false).
		Update("timed_out", true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark request %d timed out: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkDispatchFailed flags an unprocessed request whose oracle dispatch failed
func (r *riskRequestRepository) MarkDispatchFailed(ctx context.Context, id uint64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RiskRequest{}).
		Where("id = ? AND processed = ? AND dispatch_failed = ?", id, false, false).
		Update("dispatch_failed", true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark request %d dispatch failed: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkManualRequested records the owner's manual processing request
func (r *riskRequestRepository) MarkManualRequested(ctx context.Context, id uint64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RiskRequest{}).
		Where("id = ? AND processed = ? AND manual_processing_requested = ?", id, false, false).
		Updates(map[string]interface{}{
			"manual_processing_requested": true,
			"manual_requested_at":         at,
			"timed_out":                   true,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark request %d for manual processing: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}
