package ledger

import (
	"fmt"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProposalStatus is the review status of a journal entry proposal
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "PENDING"
	ProposalStatusApproved ProposalStatus = "APPROVED"
	ProposalStatusRejected ProposalStatus = "REJECTED"
	ProposalStatusPosted   ProposalStatus = "POSTED"
)

// JournalLine is one debit or credit line of a proposed journal entry
type JournalLine struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	ProposalID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"proposal_id"`
	LineNo      int             `gorm:"not null" json:"line_no"`
	AccountCode string          `gorm:"type:varchar(20);not null" json:"account_code"`
	Debit       decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"debit"`
	Credit      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"credit"`
	Description string          `gorm:"type:varchar(500)" json:"description"`
}

// TableName returns the table name for GORM
func (JournalLine) TableName() string {
	return "journal_lines"
}

// Proposal is a journal entry proposed for a document job. It is owned by
// exactly one job; once posted it is immutable.
type Proposal struct {
	shared.TenantAggregateRoot
	JobID      uuid.UUID      `gorm:"type:uuid;not null;index"`
	DocType    string         `gorm:"type:varchar(50);not null"`
	Status     ProposalStatus `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	Confidence float64        `gorm:"not null;default:0"`
	// Risks holds the extraction risk notes as JSON, surfaced to reviewers
	Risks        []byte        `gorm:"type:jsonb"`
	Lines        []JournalLine `gorm:"foreignKey:ProposalID;references:ID"`
	ReviewedBy   *string       `gorm:"type:varchar(100)"`
	ReviewedAt   *time.Time
	RejectReason string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (Proposal) TableName() string {
	return "proposals"
}

// NewProposal creates a pending proposal for a job
func NewProposal(tenantID, jobID uuid.UUID, docType string, lines []JournalLine, confidence float64, risks []byte) (*Proposal, error) {
	if jobID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_JOB", "Job ID cannot be empty")
	}
	if len(lines) == 0 {
		return nil, shared.NewDomainError("INVALID_LINES", "Proposal must contain at least one journal line")
	}
	for i, line := range lines {
		if line.AccountCode == "" {
			return nil, shared.NewDomainError("INVALID_LINES", fmt.Sprintf("Line %d is missing an account code", i+1))
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return nil, shared.NewDomainError("INVALID_LINES", fmt.Sprintf("Line %d has a negative amount", i+1))
		}
	}

	p := &Proposal{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		JobID:               jobID,
		DocType:             docType,
		Status:              ProposalStatusPending,
		Confidence:          confidence,
		Risks:               risks,
	}
	for i := range lines {
		lines[i].ID = uuid.New()
		lines[i].ProposalID = p.ID
		lines[i].LineNo = i + 1
	}
	p.Lines = lines

	p.AddDomainEvent(NewProposalCreatedEvent(p))

	return p, nil
}

// TotalDebit sums the debit side of all lines
func (p *Proposal) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// TotalCredit sums the credit side of all lines
func (p *Proposal) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.Lines {
		total = total.Add(line.Credit)
	}
	return total
}

// Imbalance returns the absolute difference between debits and credits
func (p *Proposal) Imbalance() decimal.Decimal {
	return p.TotalDebit().Sub(p.TotalCredit()).Abs()
}

// IsBalanced reports whether debits equal credits exactly
func (p *Proposal) IsBalanced() bool {
	return p.TotalDebit().Equal(p.TotalCredit())
}

// Approve marks the proposal approved by a reviewer or by policy
func (p *Proposal) Approve(actor string) error {
	if p.Status != ProposalStatusPending {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot approve proposal in %s status", p.Status))
	}
	now := time.Now()
	p.Status = ProposalStatusApproved
	p.ReviewedBy = &actor
	p.ReviewedAt = &now
	p.UpdatedAt = now

	p.AddDomainEvent(NewProposalApprovedEvent(p, actor))
	return nil
}

// Reject terminally rejects the proposal; a rejected proposal requires a new
// upload to retry.
func (p *Proposal) Reject(actor, reason string) error {
	if p.Status != ProposalStatusPending {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot reject proposal in %s status", p.Status))
	}
	now := time.Now()
	p.Status = ProposalStatusRejected
	p.ReviewedBy = &actor
	p.ReviewedAt = &now
	p.RejectReason = reason
	p.UpdatedAt = now

	p.AddDomainEvent(NewProposalRejectedEvent(p, actor, reason))
	return nil
}

// MarkPosted records that a ledger entry was written for this proposal.
// Legal only from APPROVED; posted proposals are immutable.
func (p *Proposal) MarkPosted() error {
	if p.Status != ProposalStatusApproved {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot post proposal in %s status", p.Status))
	}
	p.Status = ProposalStatusPosted
	p.UpdatedAt = time.Now()
	return nil
}
