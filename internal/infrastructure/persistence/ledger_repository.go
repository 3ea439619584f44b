package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormLedgerRepository implements LedgerRepository using GORM
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// CreateTx inserts the entry and its lines inside the caller's transaction.
// The unique index on proposal_id backs the at-most-one-entry-per-proposal
// guarantee even if two posting attempts race past the row lock.
func (r *GormLedgerRepository) CreateTx(ctx context.Context, tx *gorm.DB, entry *ledger.LedgerEntry) error {
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByProposalID returns the entry posted for a proposal, or nil, nil
func (r *GormLedgerRepository) FindByProposalID(ctx context.Context, proposalID uuid.UUID) (*ledger.LedgerEntry, error) {
	return r.FindByProposalIDTx(ctx, r.db, proposalID)
}

// FindByProposalIDTx is FindByProposalID inside the caller's transaction
func (r *GormLedgerRepository) FindByProposalIDTx(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*ledger.LedgerEntry, error) {
	var entry ledger.LedgerEntry
	if err := tx.WithContext(ctx).
		Preload("Lines").
		First(&entry, "proposal_id = ?", proposalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// CountForDay counts entries for a tenant on a calendar day inside the
// caller's transaction
func (r *GormLedgerRepository) CountForDay(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var count int64
	err := tx.WithContext(ctx).
		Model(&ledger.LedgerEntry{}).
		Where("tenant_id = ? AND entry_date >= ? AND entry_date < ?", tenantID, start, end).
		Count(&count).Error
	return count, err
}

// FindByID retrieves an entry with lines preloaded
func (r *GormLedgerRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.LedgerEntry, error) {
	var entry ledger.LedgerEntry
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Ensure GormLedgerRepository implements LedgerRepository
var _ ledger.LedgerRepository = (*GormLedgerRepository)(nil)
