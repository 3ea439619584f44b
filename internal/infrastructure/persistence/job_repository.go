package persistence

import (
	"context"
	"errors"

	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormJobRepository implements JobRepository using GORM
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GormJobRepository
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Create inserts a new job
func (r *GormJobRepository) Create(ctx context.Context, job *pipeline.Job) error {
	return r.CreateTx(ctx, r.db, job)
}

// CreateTx inserts the job inside the caller's transaction
func (r *GormJobRepository) CreateTx(ctx context.Context, tx *gorm.DB, job *pipeline.Job) error {
	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByID finds a job by ID
func (r *GormJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*pipeline.Job, error) {
	return r.FindByIDTx(ctx, r.db, id)
}

// FindByIDTx finds a job within the caller's transaction
func (r *GormJobRepository) FindByIDTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*pipeline.Job, error) {
	var job pipeline.Job
	if err := tx.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// FindByChecksum finds a job by tenant and document checksum.
// Returns nil, nil when no job holds the checksum.
func (r *GormJobRepository) FindByChecksum(ctx context.Context, tenantID uuid.UUID, checksum string) (*pipeline.Job, error) {
	var job pipeline.Job
	if err := r.db.WithContext(ctx).
		First(&job, "tenant_id = ? AND document_checksum = ?", tenantID, checksum).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Update persists job mutations with an optimistic version check
func (r *GormJobRepository) Update(ctx context.Context, job *pipeline.Job) error {
	return r.UpdateTx(ctx, r.db, job)
}

// UpdateTx persists the job inside the caller's transaction
func (r *GormJobRepository) UpdateTx(ctx context.Context, tx *gorm.DB, job *pipeline.Job) error {
	currentVersion := job.Version
	job.IncrementVersion()

	result := tx.WithContext(ctx).
		Model(&pipeline.Job{}).
		Where("id = ? AND version = ?", job.ID, currentVersion).
		Select("*").
		Omit("id", "tenant_id", "created_at").
		Updates(job)
	if result.Error != nil {
		job.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		job.Version = currentVersion
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindByTenant lists jobs for a tenant, newest first
func (r *GormJobRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*pipeline.Job, int64, error) {
	var jobs []*pipeline.Job
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&pipeline.Job{}).
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
	if err := query.Find(&jobs).Error; err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// FindInStates lists jobs in any of the given states, oldest first
func (r *GormJobRepository) FindInStates(ctx context.Context, states []pipeline.JobState, limit int) ([]*pipeline.Job, error) {
	var jobs []*pipeline.Job
	query := r.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}

// Ensure GormJobRepository implements JobRepository
var _ pipeline.JobRepository = (*GormJobRepository)(nil)
