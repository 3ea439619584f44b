package ledger

import (
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names published by the ledger domain
const (
	EventTypeProposalCreated  = "ProposalCreated"
	EventTypeProposalApproved = "ProposalApproved"
	EventTypeProposalRejected = "ProposalRejected"
	EventTypeLedgerPosted     = "LedgerPosted"
)

// ProposalCreatedEvent is raised when the pipeline records a new proposal
type ProposalCreatedEvent struct {
	shared.BaseDomainEvent
	ProposalID uuid.UUID       `json:"proposal_id"`
	JobID      uuid.UUID       `json:"job_id"`
	DocType    string          `json:"doc_type"`
	LineCount  int             `json:"line_count"`
	TotalDebit decimal.Decimal `json:"total_debit"`
	Confidence float64         `json:"confidence"`
}

// EventType returns the event type name
func (e *ProposalCreatedEvent) EventType() string {
	return EventTypeProposalCreated
}

// NewProposalCreatedEvent creates a new ProposalCreatedEvent
func NewProposalCreatedEvent(p *Proposal) *ProposalCreatedEvent {
	return &ProposalCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeProposalCreated, "Proposal", p.ID, p.TenantID),
		ProposalID:      p.ID,
		JobID:           p.JobID,
		DocType:         p.DocType,
		LineCount:       len(p.Lines),
		TotalDebit:      p.TotalDebit(),
		Confidence:      p.Confidence,
	}
}

// ProposalApprovedEvent is raised when a proposal is approved
type ProposalApprovedEvent struct {
	shared.BaseDomainEvent
	ProposalID uuid.UUID `json:"proposal_id"`
	JobID      uuid.UUID `json:"job_id"`
	Actor      string    `json:"actor"`
}

// EventType returns the event type name
func (e *ProposalApprovedEvent) EventType() string {
	return EventTypeProposalApproved
}

// NewProposalApprovedEvent creates a new ProposalApprovedEvent
func NewProposalApprovedEvent(p *Proposal, actor string) *ProposalApprovedEvent {
	return &ProposalApprovedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeProposalApproved, "Proposal", p.ID, p.TenantID),
		ProposalID:      p.ID,
		JobID:           p.JobID,
		Actor:           actor,
	}
}

// ProposalRejectedEvent is raised when a proposal is terminally rejected
type ProposalRejectedEvent struct {
	shared.BaseDomainEvent
	ProposalID uuid.UUID `json:"proposal_id"`
	JobID      uuid.UUID `json:"job_id"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason"`
}

// EventType returns the event type name
func (e *ProposalRejectedEvent) EventType() string {
	return EventTypeProposalRejected
}

// NewProposalRejectedEvent creates a new ProposalRejectedEvent
func NewProposalRejectedEvent(p *Proposal, actor, reason string) *ProposalRejectedEvent {
	return &ProposalRejectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeProposalRejected, "Proposal", p.ID, p.TenantID),
		ProposalID:      p.ID,
		JobID:           p.JobID,
		Actor:           actor,
		Reason:          reason,
	}
}

// LedgerPostedEvent is raised when a ledger entry commits
type LedgerPostedEvent struct {
	shared.BaseDomainEvent
	LedgerEntryID uuid.UUID       `json:"ledger_entry_id"`
	ProposalID    uuid.UUID       `json:"proposal_id"`
	JobID         uuid.UUID       `json:"job_id"`
	JournalNumber string          `json:"journal_number"`
	EntryDate     time.Time       `json:"entry_date"`
	TotalDebit    decimal.Decimal `json:"total_debit"`
	TotalCredit   decimal.Decimal `json:"total_credit"`
}

// EventType returns the event type name
func (e *LedgerPostedEvent) EventType() string {
	return EventTypeLedgerPosted
}

// NewLedgerPostedEvent creates a new LedgerPostedEvent
func NewLedgerPostedEvent(entry *LedgerEntry) *LedgerPostedEvent {
	return &LedgerPostedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLedgerPosted, "LedgerEntry", entry.ID, entry.TenantID),
		LedgerEntryID:   entry.ID,
		ProposalID:      entry.ProposalID,
		JobID:           entry.JobID,
		JournalNumber:   entry.JournalNumber,
		EntryDate:       entry.EntryDate,
		TotalDebit:      entry.TotalDebit,
		TotalCredit:     entry.TotalCredit,
	}
}
