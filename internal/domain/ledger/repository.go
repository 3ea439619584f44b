package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProposalRepository persists journal entry proposals
type ProposalRepository interface {
	// Create inserts a new proposal with its lines
	Create(ctx context.Context, proposal *Proposal) error
	// CreateTx inserts a new proposal inside the caller's transaction
	CreateTx(ctx context.Context, tx *gorm.DB, proposal *Proposal) error
	// FindByID retrieves a proposal with lines preloaded
	FindByID(ctx context.Context, id uuid.UUID) (*Proposal, error)
	// FindByJobID retrieves the proposal owned by a job. Returns nil, nil
	// when the job has no proposal yet.
	FindByJobID(ctx context.Context, jobID uuid.UUID) (*Proposal, error)
	// Update persists proposal mutations
	Update(ctx context.Context, proposal *Proposal) error
	// UpdateTx persists proposal mutations inside the caller's transaction
	UpdateTx(ctx context.Context, tx *gorm.DB, proposal *Proposal) error
	// FindByIDForUpdate loads the proposal under a row lock inside the
	// caller's transaction, serializing concurrent posting attempts.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Proposal, error)
}

// LedgerRepository persists posted ledger entries
type LedgerRepository interface {
	// CreateTx inserts the entry and its lines inside the caller's transaction
	CreateTx(ctx context.Context, tx *gorm.DB, entry *LedgerEntry) error
	// FindByProposalID returns the entry posted for a proposal, or nil, nil
	FindByProposalID(ctx context.Context, proposalID uuid.UUID) (*LedgerEntry, error)
	// FindByProposalIDTx is FindByProposalID inside the caller's transaction
	FindByProposalIDTx(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*LedgerEntry, error)
	// CountForDay counts entries for a tenant on a calendar day inside the
	// caller's transaction; used to allocate the next journal sequence.
	CountForDay(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, day time.Time) (int64, error)
	// FindByID retrieves an entry with lines preloaded
	FindByID(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
}
