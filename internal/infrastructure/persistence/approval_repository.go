package persistence

import (
	"context"
	"errors"

	"github.com/docuflow/backend/internal/domain/approval"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormApprovalRepository implements approval.Repository using GORM
type GormApprovalRepository struct {
	db *gorm.DB
}

// NewGormApprovalRepository creates a new GormApprovalRepository
func NewGormApprovalRepository(db *gorm.DB) *GormApprovalRepository {
	return &GormApprovalRepository{db: db}
}

// Create inserts a new approval
func (r *GormApprovalRepository) Create(ctx context.Context, a *approval.Approval) error {
	return r.CreateTx(ctx, r.db, a)
}

// CreateTx inserts a new approval inside the caller's transaction
func (r *GormApprovalRepository) CreateTx(ctx context.Context, tx *gorm.DB, a *approval.Approval) error {
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByID retrieves an approval by ID
func (r *GormApprovalRepository) FindByID(ctx context.Context, id uuid.UUID) (*approval.Approval, error) {
	var a approval.Approval
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindPendingByJobID returns the pending approval for a job, or nil, nil
func (r *GormApprovalRepository) FindPendingByJobID(ctx context.Context, jobID uuid.UUID) (*approval.Approval, error) {
	var a approval.Approval
	if err := r.db.WithContext(ctx).
		First(&a, "job_id = ? AND status = ?", jobID, approval.StatusPending).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// FindPendingByJobIDForUpdate loads the pending approval under FOR UPDATE
// inside the caller's transaction
func (r *GormApprovalRepository) FindPendingByJobIDForUpdate(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*approval.Approval, error) {
	var a approval.Approval
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&a, "job_id = ? AND status = ?", jobID, approval.StatusPending).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// FindPendingByTenant lists pending approvals for a tenant, oldest first
func (r *GormApprovalRepository) FindPendingByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*approval.Approval, int64, error) {
	var approvals []*approval.Approval
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&approval.Approval{}).
		Where("tenant_id = ? AND status = ?", tenantID, approval.StatusPending).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, approval.StatusPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&approvals).Error; err != nil {
		return nil, 0, err
	}
	return approvals, total, nil
}

// Update persists approval mutations
func (r *GormApprovalRepository) Update(ctx context.Context, a *approval.Approval) error {
	return r.UpdateTx(ctx, r.db, a)
}

// UpdateTx persists approval mutations inside the caller's transaction
func (r *GormApprovalRepository) UpdateTx(ctx context.Context, tx *gorm.DB, a *approval.Approval) error {
	currentVersion := a.Version
	a.IncrementVersion()

	result := tx.WithContext(ctx).
		Model(&approval.Approval{}).
		Where("id = ? AND version = ?", a.ID, currentVersion).
		Select("*").
		Omit("id", "tenant_id", "created_at").
		Updates(a)
	if result.Error != nil {
		a.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		a.Version = currentVersion
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Ensure GormApprovalRepository implements approval.Repository
var _ approval.Repository = (*GormApprovalRepository)(nil)
