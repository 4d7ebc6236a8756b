package repository

import (
	"context"

	"collateral-backend/internal/models"

	"gorm.io/gorm"
)

// AuditRepository append-only audit log
type AuditRepository interface {
	WithTx(tx *gorm.DB) AuditRepository

	Append(ctx context.Context, event *models.AuditEvent) error
	FindByKind(ctx context.Context, kind string, limit int) ([]*models.AuditEvent, error)
	FindByActor(ctx context.Context, actor string, limit int) ([]*models.AuditEvent, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new AuditRepository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) WithTx(tx *gorm.DB) AuditRepository {
	return &auditRepository{db: tx}
}

func (r *auditRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *auditRepository) FindByKind(ctx context.Context, kind string, limit int) ([]*models.AuditEvent, error) {
	var events []*models.AuditEvent
	q := r.db.WithContext(ctx)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *auditRepository) FindByActor(ctx context.Context, actor string, limit int) ([]*models.AuditEvent, error) {
	var events []*models.AuditEvent
	err := r.db.WithContext(ctx).
		Where("actor = ?", actor).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
