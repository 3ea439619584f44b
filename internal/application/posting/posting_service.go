package posting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransactionRunner runs a function inside a database transaction
type TransactionRunner interface {
	Transaction(fn func(tx *gorm.DB) error) error
}

// journalRetries bounds retries when two tenants' posting transactions race
// for the same daily journal sequence number.
const journalRetries = 3

// Service posts approved proposals to the ledger. Posting is idempotent:
// at most one ledger entry ever exists per proposal, enforced by a row lock
// on the proposal and a unique index on (proposal_id).
type Service struct {
	db        TransactionRunner
	jobs      pipeline.JobRepository
	zones     pipeline.DataZoneRepository
	proposals ledger.ProposalRepository
	entries   ledger.LedgerRepository
	outbox    shared.OutboxEventSaver
	auditor   audit.Recorder
	logger    *zap.Logger
}

// NewService creates a posting service
func NewService(
	db TransactionRunner,
	jobs pipeline.JobRepository,
	zones pipeline.DataZoneRepository,
	proposals ledger.ProposalRepository,
	entries ledger.LedgerRepository,
	outbox shared.OutboxEventSaver,
	auditor audit.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		jobs:      jobs,
		zones:     zones,
		proposals: proposals,
		entries:   entries,
		outbox:    outbox,
		auditor:   auditor,
		logger:    logger,
	}
}

// PostResult is the outcome of a posting attempt
type PostResult struct {
	LedgerEntryID uuid.UUID `json:"ledger_entry_id"`
	JournalNumber string    `json:"journal_number"`
	AlreadyPosted bool      `json:"already_posted"`
}

// Post writes the ledger entry for the job's approved proposal and completes
// the job. Calling Post again for an already posted proposal returns the
// existing entry with AlreadyPosted set; it never writes a second entry.
func (s *Service) Post(ctx context.Context, jobID uuid.UUID, actor string) (*PostResult, error) {
	proposal, err := s.proposals.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, shared.NewDomainError("NO_PROPOSAL", "Job has no proposal to post")
	}

	var result *PostResult
	for attempt := 0; attempt < journalRetries; attempt++ {
		result, err = s.postOnce(ctx, jobID, proposal.ID, actor)
		if err == shared.ErrAlreadyExists {
			// lost the daily journal sequence race; re-count and retry
			continue
		}
		return result, err
	}
	return nil, shared.NewDomainError("JOURNAL_SEQUENCE_CONFLICT",
		"Could not allocate a journal number, too many concurrent postings")
}

func (s *Service) postOnce(ctx context.Context, jobID, proposalID uuid.UUID, actor string) (*PostResult, error) {
	var result PostResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// The row lock serializes concurrent posting attempts for the same
		// proposal: the second caller blocks here, then observes the entry
		// the first one committed.
		proposal, err := s.proposals.FindByIDForUpdate(ctx, tx, proposalID)
		if err != nil {
			return err
		}

		existing, err := s.entries.FindByProposalIDTx(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = PostResult{
				LedgerEntryID: existing.ID,
				JournalNumber: existing.JournalNumber,
				AlreadyPosted: true,
			}
			return s.completeJob(ctx, tx, jobID, existing, actor)
		}

		if proposal.Status != ledger.ProposalStatusApproved {
			return shared.NewDomainError("INVALID_STATE",
				fmt.Sprintf("Cannot post proposal in %s status", proposal.Status))
		}

		entryDate := time.Now()
		count, err := s.entries.CountForDay(ctx, tx, proposal.TenantID, entryDate)
		if err != nil {
			return err
		}
		journalNumber := ledger.FormatJournalNumber(entryDate, int(count)+1)

		entry, err := ledger.NewLedgerEntry(proposal, journalNumber, entryDate)
		if err != nil {
			return err
		}
		if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
			return err
		}

		if err := proposal.MarkPosted(); err != nil {
			return err
		}
		if err := s.proposals.UpdateTx(ctx, tx, proposal); err != nil {
			return err
		}

		if err := s.outbox.SaveEvents(ctx, tx, entry.GetDomainEvents()...); err != nil {
			return err
		}
		entry.ClearDomainEvents()

		auditEvent, err := audit.NewEvent(proposal.TenantID, jobID, audit.EventLedgerPosted,
			actor, mustJSON(map[string]string{
				"proposal_id":    proposal.ID.String(),
				"journal_number": journalNumber,
				"total_debit":    entry.TotalDebit.String(),
				"total_credit":   entry.TotalCredit.String(),
			}), "")
		if err != nil {
			return err
		}
		if err := s.auditor.RecordTx(ctx, tx, auditEvent); err != nil {
			return err
		}

		result = PostResult{
			LedgerEntryID: entry.ID,
			JournalNumber: journalNumber,
		}
		return s.completeJob(ctx, tx, jobID, entry, actor)
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyPosted {
		s.logger.Info("Ledger entry posted",
			zap.String("job_id", jobID.String()),
			zap.String("journal_number", result.JournalNumber),
		)
	}
	return &result, nil
}

// completeJob moves the job POSTING -> COMPLETED together with the posted
// zone record. A job that already completed is left alone, which is what
// makes replayed posting attempts harmless.
func (s *Service) completeJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, entry *ledger.LedgerEntry, actor string) error {
	job, err := s.jobs.FindByIDTx(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.State == pipeline.JobStateCompleted {
		return nil
	}
	if err := job.TransitionTo(pipeline.JobStateCompleted, nil); err != nil {
		return err
	}
	if err := s.jobs.UpdateTx(ctx, tx, job); err != nil {
		return err
	}

	zoneRecord, err := pipeline.NewDataZoneRecord(job.TenantID, job.ID, pipeline.ZonePosted,
		mustJSON(map[string]string{"journal_number": entry.JournalNumber}))
	if err != nil {
		return err
	}
	if err := s.zones.AppendTx(ctx, tx, zoneRecord); err != nil {
		return err
	}
	zoneEvent, err := audit.NewEvent(job.TenantID, job.ID, audit.EventZoneEntered, actor,
		mustJSON(map[string]string{"zone": string(pipeline.ZonePosted)}), "")
	if err != nil {
		return err
	}
	if err := s.auditor.RecordTx(ctx, tx, zoneEvent); err != nil {
		return err
	}

	if err := s.outbox.SaveEvents(ctx, tx, job.GetDomainEvents()...); err != nil {
		return err
	}
	job.ClearDomainEvents()
	return nil
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
