package persistence

import (
	"context"

	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAuditRepository implements audit.Repository using GORM. The table is
// append-only: this repository never updates or deletes rows.
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Record appends an audit event
func (r *GormAuditRepository) Record(ctx context.Context, event *audit.Event) error {
	return r.RecordTx(ctx, r.db, event)
}

// RecordTx appends an audit event inside the caller's transaction
func (r *GormAuditRepository) RecordTx(ctx context.Context, tx *gorm.DB, event *audit.Event) error {
	return tx.WithContext(ctx).Create(event).Error
}

// FindByJobID returns the ordered timeline for one job
func (r *GormAuditRepository) FindByJobID(ctx context.Context, jobID uuid.UUID) ([]*audit.Event, error) {
	var events []*audit.Event
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

// FindByTenant returns a time-ordered slice for a tenant, newest first
func (r *GormAuditRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*audit.Event, int64, error) {
	var events []*audit.Event
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&audit.Event{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Ensure GormAuditRepository implements audit.Repository
var _ audit.Repository = (*GormAuditRepository)(nil)
