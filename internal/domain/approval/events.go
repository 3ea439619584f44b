package approval

import (
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type names published by the approval domain
const (
	EventTypeApprovalRequested = "ApprovalRequested"
	EventTypeApprovalDecided   = "ApprovalDecided"
	EventTypeApprovalCancelled = "ApprovalCancelled"
)

// ApprovalRequestedEvent is raised when a job suspends for human review
type ApprovalRequestedEvent struct {
	shared.BaseDomainEvent
	ApprovalID uuid.UUID `json:"approval_id"`
	ProposalID uuid.UUID `json:"proposal_id"`
	JobID      uuid.UUID `json:"job_id"`
	Reason     string    `json:"reason"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// EventType returns the event type name
func (e *ApprovalRequestedEvent) EventType() string {
	return EventTypeApprovalRequested
}

// NewApprovalRequestedEvent creates a new ApprovalRequestedEvent
func NewApprovalRequestedEvent(a *Approval) *ApprovalRequestedEvent {
	return &ApprovalRequestedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApprovalRequested, "Approval", a.ID, a.TenantID),
		ApprovalID:      a.ID,
		ProposalID:      a.ProposalID,
		JobID:           a.JobID,
		Reason:          a.Reason,
		ExpiresAt:       a.ExpiresAt,
	}
}

// ApprovalDecidedEvent is raised when a reviewer approves or rejects
type ApprovalDecidedEvent struct {
	shared.BaseDomainEvent
	ApprovalID uuid.UUID `json:"approval_id"`
	ProposalID uuid.UUID `json:"proposal_id"`
	JobID      uuid.UUID `json:"job_id"`
	Status     Status    `json:"status"`
	DecidedBy  string    `json:"decided_by"`
	Comment    string    `json:"comment,omitempty"`
}

// EventType returns the event type name
func (e *ApprovalDecidedEvent) EventType() string {
	return EventTypeApprovalDecided
}

// NewApprovalDecidedEvent creates a new ApprovalDecidedEvent
func NewApprovalDecidedEvent(a *Approval) *ApprovalDecidedEvent {
	decidedBy := ""
	if a.DecidedBy != nil {
		decidedBy = *a.DecidedBy
	}
	return &ApprovalDecidedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApprovalDecided, "Approval", a.ID, a.TenantID),
		ApprovalID:      a.ID,
		ProposalID:      a.ProposalID,
		JobID:           a.JobID,
		Status:          a.Status,
		DecidedBy:       decidedBy,
		Comment:         a.Comment,
	}
}

// ApprovalCancelledEvent is raised when a pending wait is released
type ApprovalCancelledEvent struct {
	shared.BaseDomainEvent
	ApprovalID uuid.UUID `json:"approval_id"`
	JobID      uuid.UUID `json:"job_id"`
	Reason     string    `json:"reason"`
}

// EventType returns the event type name
func (e *ApprovalCancelledEvent) EventType() string {
	return EventTypeApprovalCancelled
}

// NewApprovalCancelledEvent creates a new ApprovalCancelledEvent
func NewApprovalCancelledEvent(a *Approval, reason string) *ApprovalCancelledEvent {
	return &ApprovalCancelledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApprovalCancelled, "Approval", a.ID, a.TenantID),
		ApprovalID:      a.ID,
		JobID:           a.JobID,
		Reason:          reason,
	}
}
