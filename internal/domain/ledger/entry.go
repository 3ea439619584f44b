package ledger

import (
	"fmt"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerLine is one posted debit or credit line
type LedgerLine struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	LedgerEntryID uuid.UUID       `gorm:"type:uuid;not null;index" json:"ledger_entry_id"`
	LineNo        int             `gorm:"not null" json:"line_no"`
	AccountCode   string          `gorm:"type:varchar(20);not null;index" json:"account_code"`
	Debit         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"debit"`
	Credit        decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"credit"`
	Description   string          `gorm:"type:varchar(500)" json:"description"`
}

// TableName returns the table name for GORM
func (LedgerLine) TableName() string {
	return "ledger_lines"
}

// LedgerEntry is a posted double-entry journal. At most one entry exists per
// proposal; the journal number is unique per tenant per day.
type LedgerEntry struct {
	shared.TenantAggregateRoot
	ProposalID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	JobID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	JournalNumber string          `gorm:"type:varchar(30);not null;uniqueIndex:idx_ledger_tenant_journal,priority:2"`
	EntryDate     time.Time       `gorm:"not null;index"`
	Description   string          `gorm:"type:varchar(500)"`
	TotalDebit    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalCredit   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Lines         []LedgerLine    `gorm:"foreignKey:LedgerEntryID;references:ID"`
}

// TableName returns the table name for GORM
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// FormatJournalNumber builds the per-tenant per-day journal number, e.g.
// JV-20260115-0003.
func FormatJournalNumber(entryDate time.Time, sequence int) string {
	return fmt.Sprintf("JV-%s-%04d", entryDate.Format("20060102"), sequence)
}

// NewLedgerEntry posts an approved proposal as a balanced ledger entry.
// Returns shared.ErrUnbalancedEntries when debits and credits differ.
func NewLedgerEntry(proposal *Proposal, journalNumber string, entryDate time.Time) (*LedgerEntry, error) {
	if !proposal.IsBalanced() {
		return nil, shared.NewDomainError("UNBALANCED_ENTRIES",
			fmt.Sprintf("Debits %s do not equal credits %s",
				proposal.TotalDebit().String(), proposal.TotalCredit().String()))
	}
	if journalNumber == "" {
		return nil, shared.NewDomainError("INVALID_JOURNAL_NUMBER", "Journal number cannot be empty")
	}

	entry := &LedgerEntry{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(proposal.TenantID),
		ProposalID:          proposal.ID,
		JobID:               proposal.JobID,
		JournalNumber:       journalNumber,
		EntryDate:           entryDate,
		Description:         fmt.Sprintf("Posted from %s document", proposal.DocType),
		TotalDebit:          proposal.TotalDebit(),
		TotalCredit:         proposal.TotalCredit(),
	}

	lines := make([]LedgerLine, len(proposal.Lines))
	for i, src := range proposal.Lines {
		lines[i] = LedgerLine{
			ID:            uuid.New(),
			LedgerEntryID: entry.ID,
			LineNo:        src.LineNo,
			AccountCode:   src.AccountCode,
			Debit:         src.Debit,
			Credit:        src.Credit,
			Description:   src.Description,
		}
	}
	entry.Lines = lines

	entry.AddDomainEvent(NewLedgerPostedEvent(entry))

	return entry, nil
}
