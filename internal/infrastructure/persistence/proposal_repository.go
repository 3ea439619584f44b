package persistence

import (
	"context"
	"errors"

	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProposalRepository implements ProposalRepository using GORM
type GormProposalRepository struct {
	db *gorm.DB
}

// NewGormProposalRepository creates a new GormProposalRepository
func NewGormProposalRepository(db *gorm.DB) *GormProposalRepository {
	return &GormProposalRepository{db: db}
}

// Create inserts a new proposal with its lines
func (r *GormProposalRepository) Create(ctx context.Context, proposal *ledger.Proposal) error {
	return r.CreateTx(ctx, r.db, proposal)
}

// CreateTx inserts a new proposal inside the caller's transaction
func (r *GormProposalRepository) CreateTx(ctx context.Context, tx *gorm.DB, proposal *ledger.Proposal) error {
	if err := tx.WithContext(ctx).Create(proposal).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByID finds a proposal by ID with lines preloaded
func (r *GormProposalRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Proposal, error) {
	var proposal ledger.Proposal
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		First(&proposal, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &proposal, nil
}

// FindByJobID finds the proposal owned by a job. Returns nil, nil when the
// job has no proposal yet.
func (r *GormProposalRepository) FindByJobID(ctx context.Context, jobID uuid.UUID) (*ledger.Proposal, error) {
	var proposal ledger.Proposal
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		First(&proposal, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &proposal, nil
}

// Update persists proposal mutations
func (r *GormProposalRepository) Update(ctx context.Context, proposal *ledger.Proposal) error {
	return r.UpdateTx(ctx, r.db, proposal)
}

// UpdateTx persists proposal mutations inside the caller's transaction
func (r *GormProposalRepository) UpdateTx(ctx context.Context, tx *gorm.DB, proposal *ledger.Proposal) error {
	currentVersion := proposal.Version
	proposal.IncrementVersion()

	result := tx.WithContext(ctx).
		Model(&ledger.Proposal{}).
		Where("id = ? AND version = ?", proposal.ID, currentVersion).
		Select("*").
		Omit("id", "tenant_id", "created_at", "Lines").
		Updates(proposal)
	if result.Error != nil {
		proposal.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		proposal.Version = currentVersion
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindByIDForUpdate loads the proposal under FOR UPDATE inside the caller's
// transaction. Lines are loaded separately because FOR UPDATE cannot lock
// across a joined preload.
func (r *GormProposalRepository) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*ledger.Proposal, error) {
	var proposal ledger.Proposal
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&proposal, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if err := tx.WithContext(ctx).
		Where("proposal_id = ?", id).
		Order("line_no ASC").
		Find(&proposal.Lines).Error; err != nil {
		return nil, err
	}
	return &proposal, nil
}

// Ensure GormProposalRepository implements ProposalRepository
var _ ledger.ProposalRepository = (*GormProposalRepository)(nil)
