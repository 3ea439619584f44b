package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docuflow/backend/internal/application/posting"
	"github.com/docuflow/backend/internal/domain/approval"
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

// Poster posts the approved proposal of a job to the ledger
type Poster interface {
	Post(ctx context.Context, jobID uuid.UUID, actor string) (*posting.PostResult, error)
}

// Service handles the human side of the pipeline: a job suspended in
// WAITING_FOR_APPROVAL moves only through this service. The decision commits
// in one transaction under a row lock on the pending approval, so concurrent
// signals for the same job cannot both win, and any instance can resume a
// job another instance suspended.
type Service struct {
	db        TransactionRunner
	jobs      pipeline.JobRepository
	approvals approval.Repository
	proposals ledger.ProposalRepository
	outbox    shared.OutboxEventSaver
	auditor   audit.Recorder
	poster    Poster
	logger    *zap.Logger
}

// NewService creates an approval service
func NewService(
	db TransactionRunner,
	jobs pipeline.JobRepository,
	approvals approval.Repository,
	proposals ledger.ProposalRepository,
	outbox shared.OutboxEventSaver,
	auditor audit.Recorder,
	poster Poster,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		jobs:      jobs,
		approvals: approvals,
		proposals: proposals,
		outbox:    outbox,
		auditor:   auditor,
		poster:    poster,
		logger:    logger,
	}
}

// DecideInput carries one reviewer decision
type DecideInput struct {
	TenantID uuid.UUID
	JobID    uuid.UUID
	Decision approval.Decision
	Actor    string
	Comment  string
}

// DecideResult is the outcome of a decision signal
type DecideResult struct {
	ApprovalID    uuid.UUID `json:"approval_id"`
	Status        string    `json:"status"`
	JobState      string    `json:"job_state"`
	JournalNumber string    `json:"journal_number,omitempty"`
}

// Decide records an approve or reject signal for the job's pending approval
// and resumes the job. Approve moves the job to POSTING and posts the ledger
// entry; reject terminates the job with no ledger write.
func (s *Service) Decide(ctx context.Context, input DecideInput) (*DecideResult, error) {
	if !input.Decision.IsValid() {
		return nil, shared.NewDomainError("INVALID_DECISION", "Decision must be approve or reject")
	}
	if input.Actor == "" {
		return nil, shared.NewDomainError("INVALID_ACTOR", "Actor identity is required")
	}

	var result DecideResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		pending, err := s.approvals.FindPendingByJobIDForUpdate(ctx, tx, input.JobID)
		if err != nil {
			return err
		}
		if pending == nil || pending.TenantID != input.TenantID {
			return shared.NewDomainError("NO_PENDING_APPROVAL", "Job has no pending approval")
		}

		job, err := s.jobs.FindByID(ctx, input.JobID)
		if err != nil {
			return err
		}
		proposal, err := s.proposals.FindByID(ctx, pending.ProposalID)
		if err != nil {
			return err
		}

		if input.Decision == approval.DecisionApprove {
			if err := pending.Approve(input.Actor, input.Comment); err != nil {
				return err
			}
			if err := proposal.Approve(input.Actor); err != nil {
				return err
			}
			if err := job.TransitionTo(pipeline.JobStatePosting, nil); err != nil {
				return err
			}
		} else {
			if err := pending.Reject(input.Actor, input.Comment); err != nil {
				return err
			}
			if err := proposal.Reject(input.Actor, input.Comment); err != nil {
				return err
			}
			if err := job.Fail("rejected by reviewer"); err != nil {
				return err
			}
		}

		if err := s.approvals.UpdateTx(ctx, tx, pending); err != nil {
			return err
		}
		if err := s.proposals.UpdateTx(ctx, tx, proposal); err != nil {
			return err
		}
		if err := s.jobs.UpdateTx(ctx, tx, job); err != nil {
			return err
		}

		events := append(pending.GetDomainEvents(), proposal.GetDomainEvents()...)
		events = append(events, job.GetDomainEvents()...)
		if err := s.outbox.SaveEvents(ctx, tx, events...); err != nil {
			return err
		}
		pending.ClearDomainEvents()
		proposal.ClearDomainEvents()
		job.ClearDomainEvents()

		decided, err := audit.NewEvent(input.TenantID, input.JobID, audit.EventApprovalDecided,
			input.Actor, mustJSON(map[string]string{
				"approval_id": pending.ID.String(),
				"decision":    string(input.Decision),
				"comment":     input.Comment,
			}), "")
		if err != nil {
			return err
		}
		if err := s.auditor.RecordTx(ctx, tx, decided); err != nil {
			return err
		}

		if input.Decision == approval.DecisionReject {
			failed, err := audit.NewEvent(input.TenantID, input.JobID, audit.EventJobFailed,
				input.Actor, mustJSON(map[string]string{"reason": "rejected by reviewer"}), "")
			if err != nil {
				return err
			}
			if err := s.auditor.RecordTx(ctx, tx, failed); err != nil {
				return err
			}
		}

		result = DecideResult{
			ApprovalID: pending.ID,
			Status:     string(pending.Status),
			JobState:   string(job.State),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if input.Decision == approval.DecisionApprove {
		// The decision is durable; posting failures here are retried by the
		// pipeline resume loop picking the job up in POSTING.
		postResult, err := s.poster.Post(ctx, input.JobID, input.Actor)
		if err != nil {
			s.logger.Warn("Posting after approval failed, resume loop will retry",
				zap.String("job_id", input.JobID.String()), zap.Error(err))
		} else {
			result.JournalNumber = postResult.JournalNumber
			result.JobState = string(pipeline.JobStateCompleted)
		}
	}

	s.logger.Info("Approval decided",
		zap.String("job_id", input.JobID.String()),
		zap.String("decision", string(input.Decision)),
		zap.String("actor", input.Actor),
	)
	return &result, nil
}

// Cancel releases a pending approval without a reviewer decision and fails
// the suspended job, recording the reason.
func (s *Service) Cancel(ctx context.Context, tenantID, jobID uuid.UUID, reason, actor string) error {
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Cancellation reason is required")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		pending, err := s.approvals.FindPendingByJobIDForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if pending == nil || pending.TenantID != tenantID {
			return shared.NewDomainError("NO_PENDING_APPROVAL", "Job has no pending approval")
		}

		job, err := s.jobs.FindByID(ctx, jobID)
		if err != nil {
			return err
		}

		if err := pending.Cancel(reason); err != nil {
			return err
		}
		if err := job.Fail("approval cancelled: " + reason); err != nil {
			return err
		}

		if err := s.approvals.UpdateTx(ctx, tx, pending); err != nil {
			return err
		}
		if err := s.jobs.UpdateTx(ctx, tx, job); err != nil {
			return err
		}

		events := append(pending.GetDomainEvents(), job.GetDomainEvents()...)
		if err := s.outbox.SaveEvents(ctx, tx, events...); err != nil {
			return err
		}
		pending.ClearDomainEvents()
		job.ClearDomainEvents()

		cancelled, err := audit.NewEvent(tenantID, jobID, audit.EventApprovalCancelled,
			actor, mustJSON(map[string]string{
				"approval_id": pending.ID.String(),
				"reason":      reason,
			}), "")
		if err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, cancelled)
	})
}

// PendingApprovalDTO is the API view of a pending approval
type PendingApprovalDTO struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	ProposalID uuid.UUID `json:"proposal_id"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	// Expired is informational: the approval stays actionable, escalation
	// happens outside the workflow.
	Expired bool `json:"expired"`
}

// PendingListDTO is a page of pending approvals
type PendingListDTO struct {
	Approvals []PendingApprovalDTO `json:"approvals"`
	Total     int64                `json:"total"`
	Page      int                  `json:"page"`
	PageSize  int                  `json:"page_size"`
}

// ListPending returns the tenant's pending approvals, oldest first
func (s *Service) ListPending(ctx context.Context, tenantID uuid.UUID, page, pageSize int) (*PendingListDTO, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	pending, total, err := s.approvals.FindPendingByTenant(ctx, tenantID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dtos := make([]PendingApprovalDTO, len(pending))
	for i, a := range pending {
		dtos[i] = PendingApprovalDTO{
			ID:         a.ID,
			JobID:      a.JobID,
			ProposalID: a.ProposalID,
			Reason:     a.Reason,
			CreatedAt:  a.CreatedAt,
			ExpiresAt:  a.ExpiresAt,
			Expired:    a.IsExpired(now),
		}
	}
	return &PendingListDTO{Approvals: dtos, Total: total, Page: page, PageSize: pageSize}, nil
}

// Signal resumes a job from a delivered approval event. It implements the
// workflow delivery contract and is idempotent: redelivered events find the
// work already done and change nothing.
func (s *Service) Signal(ctx context.Context, tenantID uuid.UUID, signal string, event shared.DomainEvent) error {
	decided, err := s.approvals.FindByID(ctx, event.AggregateID())
	if err != nil {
		if err == shared.ErrNotFound {
			// not an approval aggregate; nothing to resume
			return nil
		}
		return err
	}
	if decided.TenantID != tenantID {
		return nil
	}

	switch decided.Status {
	case approval.StatusApproved:
		return s.resumeApproved(ctx, decided)
	case approval.StatusRejected, approval.StatusCancelled:
		return s.ensureFailed(ctx, decided)
	default:
		return nil
	}
}

// resumeApproved finishes the approve path for a job whose decision
// committed but whose posting was lost to a crash or redelivery.
func (s *Service) resumeApproved(ctx context.Context, decided *approval.Approval) error {
	job, err := s.jobs.FindByID(ctx, decided.JobID)
	if err != nil {
		return err
	}

	switch job.State {
	case pipeline.JobStateWaitingForApproval:
		if err := job.TransitionTo(pipeline.JobStatePosting, nil); err != nil {
			return err
		}
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.jobs.UpdateTx(ctx, tx, job); err != nil {
				return err
			}
			if err := s.outbox.SaveEvents(ctx, tx, job.GetDomainEvents()...); err != nil {
				return err
			}
			job.ClearDomainEvents()
			return nil
		})
		if err == shared.ErrConcurrencyConflict {
			return nil
		}
		if err != nil {
			return err
		}
	case pipeline.JobStatePosting:
		// fall through to posting
	default:
		return nil
	}

	actor := "system"
	if decided.DecidedBy != nil {
		actor = *decided.DecidedBy
	}
	_, err = s.poster.Post(ctx, decided.JobID, actor)
	return err
}

// ensureFailed makes sure the job of a rejected or cancelled approval did
// not stay suspended
func (s *Service) ensureFailed(ctx context.Context, decided *approval.Approval) error {
	job, err := s.jobs.FindByID(ctx, decided.JobID)
	if err != nil {
		return err
	}
	if job.State != pipeline.JobStateWaitingForApproval {
		return nil
	}
	if err := job.Fail("rejected by reviewer"); err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.jobs.UpdateTx(ctx, tx, job); err != nil {
			return err
		}
		if err := s.outbox.SaveEvents(ctx, tx, job.GetDomainEvents()...); err != nil {
			return err
		}
		job.ClearDomainEvents()
		return nil
	})
	if err == shared.ErrConcurrencyConflict {
		return nil
	}
	return err
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
