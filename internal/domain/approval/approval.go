package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the review status of an approval request
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Decision is the signal a reviewer sends for a pending approval
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid returns true for a known decision
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// DefaultWaitTimeout bounds how long an approval is considered fresh.
// Expiry never transitions the approval by itself; it only surfaces through
// the pending listing so a human or scheduled escalation can act.
const DefaultWaitTimeout = 30 * 24 * time.Hour

// Approval is the durable record of a pipeline suspended for human review.
// Its row is the suspend/resume boundary: any worker instance can deliver
// the signal and any worker instance can resume the job, because the wait
// lives here and not in process memory.
type Approval struct {
	shared.TenantAggregateRoot
	ProposalID uuid.UUID `gorm:"type:uuid;not null;index"`
	JobID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Status     Status    `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	// Reason summarizes the policy findings that forced the review
	Reason       string `gorm:"type:varchar(1000)"`
	ExpiresAt    time.Time `gorm:"not null"`
	DecidedBy    *string   `gorm:"type:varchar(100)"`
	DecidedAt    *time.Time
	Comment      string `gorm:"type:varchar(1000)"`
	CancelReason string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (Approval) TableName() string {
	return "approvals"
}

// NewApproval creates a pending approval for a proposal under review
func NewApproval(tenantID, proposalID, jobID uuid.UUID, reason string, timeout time.Duration) (*Approval, error) {
	if proposalID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PROPOSAL", "Proposal ID cannot be empty")
	}
	if jobID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_JOB", "Job ID cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	a := &Approval{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ProposalID:          proposalID,
		JobID:               jobID,
		Status:              StatusPending,
		Reason:              reason,
		ExpiresAt:           time.Now().Add(timeout),
	}

	a.AddDomainEvent(NewApprovalRequestedEvent(a))

	return a, nil
}

// Approve records an approve signal. Terminal; a decided approval is never
// re-opened.
func (a *Approval) Approve(actor, comment string) error {
	return a.decide(StatusApproved, actor, comment)
}

// Reject records a reject signal. Terminal.
func (a *Approval) Reject(actor, comment string) error {
	return a.decide(StatusRejected, actor, comment)
}

func (a *Approval) decide(status Status, actor, comment string) error {
	if a.Status != StatusPending {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Approval already decided as %s", a.Status))
	}
	if actor == "" {
		return shared.NewDomainError("INVALID_ACTOR", "Actor identity is required")
	}

	now := time.Now()
	a.Status = status
	a.DecidedBy = &actor
	a.DecidedAt = &now
	a.Comment = comment
	a.UpdatedAt = now

	a.AddDomainEvent(NewApprovalDecidedEvent(a))

	return nil
}

// Cancel releases a pending wait without a reviewer decision, recording the
// reason. Used when a job is forced to FAILED while suspended.
func (a *Approval) Cancel(reason string) error {
	if a.Status != StatusPending {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot cancel approval in %s status", a.Status))
	}
	now := time.Now()
	a.Status = StatusCancelled
	a.CancelReason = reason
	a.UpdatedAt = now

	a.AddDomainEvent(NewApprovalCancelledEvent(a, reason))

	return nil
}

// IsExpired reports whether the wait outlived its timeout. The approval
// stays pending regardless; escalation happens outside the workflow.
func (a *Approval) IsExpired(now time.Time) bool {
	return a.Status == StatusPending && now.After(a.ExpiresAt)
}

// Repository persists approval records
type Repository interface {
	// Create inserts a new approval
	Create(ctx context.Context, a *Approval) error
	// CreateTx inserts a new approval inside the caller's transaction so the
	// pending wait commits atomically with the job's suspension
	CreateTx(ctx context.Context, tx *gorm.DB, a *Approval) error
	// FindByID retrieves an approval by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Approval, error)
	// FindPendingByJobID returns the pending approval for a job, or nil, nil
	FindPendingByJobID(ctx context.Context, jobID uuid.UUID) (*Approval, error)
	// FindPendingByJobIDForUpdate loads the pending approval under a row lock
	// inside the caller's transaction, so two concurrent signals cannot both
	// confirm it.
	FindPendingByJobIDForUpdate(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*Approval, error)
	// FindPendingByTenant lists pending approvals for a tenant, oldest first
	FindPendingByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Approval, int64, error)
	// Update persists approval mutations
	Update(ctx context.Context, a *Approval) error
	// UpdateTx persists approval mutations inside the caller's transaction
	UpdateTx(ctx context.Context, tx *gorm.DB, a *Approval) error
}
