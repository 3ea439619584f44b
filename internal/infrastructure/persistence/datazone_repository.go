package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDataZoneRepository implements DataZoneRepository using GORM
type GormDataZoneRepository struct {
	db *gorm.DB
}

// NewGormDataZoneRepository creates a new GormDataZoneRepository
func NewGormDataZoneRepository(db *gorm.DB) *GormDataZoneRepository {
	return &GormDataZoneRepository{db: db}
}

// Append inserts an active record, superseding any prior active record for
// the same (job, zone) in the same transaction so lineage history is never
// lost and never ambiguous.
func (r *GormDataZoneRepository) Append(ctx context.Context, record *pipeline.DataZoneRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.AppendTx(ctx, tx, record)
	})
}

// AppendTx appends inside the caller's transaction
func (r *GormDataZoneRepository) AppendTx(ctx context.Context, tx *gorm.DB, record *pipeline.DataZoneRecord) error {
	if err := tx.WithContext(ctx).Model(&pipeline.DataZoneRecord{}).
		Where("job_id = ? AND zone = ? AND status = ?",
			record.JobID, record.Zone, pipeline.ZoneRecordActive).
		Updates(map[string]interface{}{
			"status":     pipeline.ZoneRecordSuperseded,
			"updated_at": time.Now(),
		}).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Create(record).Error
}

// CurrentZone returns the most recently entered active zone for a job
func (r *GormDataZoneRepository) CurrentZone(ctx context.Context, jobID uuid.UUID) (pipeline.Zone, error) {
	var record pipeline.DataZoneRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, pipeline.ZoneRecordActive).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return record.Zone, nil
}

// JobZones returns the full ordered lineage history for a job
func (r *GormDataZoneRepository) JobZones(ctx context.Context, jobID uuid.UUID) ([]*pipeline.DataZoneRecord, error) {
	var records []*pipeline.DataZoneRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// Ensure GormDataZoneRepository implements DataZoneRepository
var _ pipeline.DataZoneRepository = (*GormDataZoneRepository)(nil)
