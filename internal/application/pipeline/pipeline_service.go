package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docuflow/backend/internal/application/posting"
	"github.com/docuflow/backend/internal/domain/approval"
	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/policy"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckpointStage names what the stored checkpoint holds
const (
	CheckpointStageExtracted = "extracted"
	CheckpointStageProposed  = "proposed"
)

// Checkpoint is the job's persisted intermediate result. It is written at
// every forward transition so a restarted worker picks up where the last one
// stopped instead of redoing finished stages.
type Checkpoint struct {
	Stage      string      `json:"stage"`
	Extraction *Extraction `json:"extraction,omitempty"`
	ProposalID *uuid.UUID  `json:"proposal_id,omitempty"`
}

// DecodeCheckpoint parses a job's stored checkpoint; nil when none exists
func DecodeCheckpoint(raw []byte) (*Checkpoint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Poster posts the approved proposal of a job to the ledger
type Poster interface {
	Post(ctx context.Context, jobID uuid.UUID, actor string) (*posting.PostResult, error)
}

// Config tunes the pipeline workers
type Config struct {
	ExtractWorkers  int
	ProposeWorkers  int
	ResumeInterval  time.Duration
	ResumeBatchSize int
	ApprovalTimeout time.Duration
}

// Service drives jobs through the processing pipeline. Every transition is
// persisted before the next stage runs, and every mutation goes through the
// job's optimistic version check, so two workers racing on the same job
// cannot both win.
type Service struct {
	db        TransactionRunner
	jobs      pipeline.JobRepository
	zones     pipeline.DataZoneRepository
	proposals ledger.ProposalRepository
	approvals approval.Repository
	store     DocumentStore
	extractor Extractor
	proposer  Proposer
	engine    *policy.Engine
	poster    Poster
	outbox    shared.OutboxEventSaver
	auditor   audit.Recorder
	cfg       Config
	logger    *zap.Logger

	extractSem chan struct{}
	proposeSem chan struct{}
	baseCtx    context.Context
	wg         sync.WaitGroup
}

// NewService creates a pipeline service
func NewService(
	db TransactionRunner,
	jobs pipeline.JobRepository,
	zones pipeline.DataZoneRepository,
	proposals ledger.ProposalRepository,
	approvals approval.Repository,
	store DocumentStore,
	extractor Extractor,
	proposer Proposer,
	engine *policy.Engine,
	poster Poster,
	outbox shared.OutboxEventSaver,
	auditor audit.Recorder,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = 4
	}
	if cfg.ProposeWorkers <= 0 {
		cfg.ProposeWorkers = 4
	}
	if cfg.ResumeBatchSize <= 0 {
		cfg.ResumeBatchSize = 50
	}
	return &Service{
		db:         db,
		jobs:       jobs,
		zones:      zones,
		proposals:  proposals,
		approvals:  approvals,
		store:      store,
		extractor:  extractor,
		proposer:   proposer,
		engine:     engine,
		poster:     poster,
		outbox:     outbox,
		auditor:    auditor,
		cfg:        cfg,
		logger:     logger,
		extractSem: make(chan struct{}, cfg.ExtractWorkers),
		proposeSem: make(chan struct{}, cfg.ProposeWorkers),
		baseCtx:    context.Background(),
	}
}

// Start launches the resume loop. Jobs left mid-flight by a previous process
// are picked up on the first tick.
func (s *Service) Start(ctx context.Context) {
	s.baseCtx = ctx
	if s.cfg.ResumeInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resumeLoop(ctx)
	}()
}

// Stop waits for in-flight job processing to finish
func (s *Service) Stop() {
	s.wg.Wait()
}

// Kick schedules asynchronous processing of a job. Called right after upload
// so a fresh document starts moving without waiting for the resume tick.
func (s *Service) Kick(jobID uuid.UUID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Process(s.baseCtx, jobID); err != nil {
			s.logger.Warn("Job processing stopped with error",
				zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}()
}

// resumableStates are the states the resume loop scans for. WAITING_FOR_APPROVAL
// is deliberately absent: those jobs move only on an approval signal.
var resumableStates = []pipeline.JobState{
	pipeline.JobStateUploaded,
	pipeline.JobStateExtracting,
	pipeline.JobStateExtracted,
	pipeline.JobStateProposing,
	pipeline.JobStateProposed,
	pipeline.JobStatePosting,
}

func (s *Service) resumeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ResumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := s.jobs.FindInStates(ctx, resumableStates, s.cfg.ResumeBatchSize)
			if err != nil {
				s.logger.Error("Resume scan failed", zap.Error(err))
				continue
			}
			for _, job := range jobs {
				// A job already being worked on loses its version check and
				// drops out; duplicated stage work is wasted, not harmful.
				if err := s.Process(ctx, job.ID); err != nil {
					s.logger.Warn("Resumed job stopped with error",
						zap.String("job_id", job.ID.String()), zap.Error(err))
				}
			}
		}
	}
}

// Process drives one job forward until it reaches a terminal state, suspends
// for approval, or hits an error. Safe to call concurrently for the same job.
func (s *Service) Process(ctx context.Context, jobID uuid.UUID) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := s.jobs.FindByID(ctx, jobID)
		if err != nil {
			return err
		}

		switch job.State {
		case pipeline.JobStateUploaded, pipeline.JobStateExtracting:
			err = s.extract(ctx, job)
		case pipeline.JobStateExtracted, pipeline.JobStateProposing:
			err = s.propose(ctx, job)
		case pipeline.JobStateProposed:
			err = s.decide(ctx, job)
		case pipeline.JobStatePosting:
			_, err = s.poster.Post(ctx, job.ID, "system")
			if err == nil {
				return nil
			}
		default:
			// terminal or waiting for approval
			return nil
		}

		if err == shared.ErrConcurrencyConflict {
			// another worker owns this job now
			return nil
		}
		if err != nil {
			return s.failJob(ctx, job, err)
		}
	}
}

// extract runs the extraction stage. A job found in EXTRACTING was abandoned
// mid-stage by a dead worker; extraction is re-run because it has no side
// effects outside the checkpoint.
func (s *Service) extract(ctx context.Context, job *pipeline.Job) error {
	select {
	case s.extractSem <- struct{}{}:
		defer func() { <-s.extractSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if job.State == pipeline.JobStateUploaded {
		if err := s.transition(ctx, job, pipeline.JobStateExtracting, nil, "", nil, nil); err != nil {
			return err
		}
	}

	document, err := s.store.Get(ctx, job.StorageKey)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	extraction, err := s.extractor.Extract(ctx, job, document)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	checkpoint, err := json.Marshal(Checkpoint{Stage: CheckpointStageExtracted, Extraction: extraction})
	if err != nil {
		return err
	}
	zoneMeta := mustJSON(map[string]interface{}{
		"doc_type":   extraction.DocType,
		"confidence": extraction.Confidence,
	})
	return s.transition(ctx, job, pipeline.JobStateExtracted, checkpoint, pipeline.ZoneExtracted, zoneMeta, nil)
}

// propose runs the proposal stage from the extraction checkpoint
func (s *Service) propose(ctx context.Context, job *pipeline.Job) error {
	select {
	case s.proposeSem <- struct{}{}:
		defer func() { <-s.proposeSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	cp, err := DecodeCheckpoint(job.Checkpoint)
	if err != nil {
		return err
	}

	// A PROPOSING job whose proposal already committed only needs the
	// transition replayed; never draft twice for one job.
	if job.State == pipeline.JobStateProposing {
		existing, err := s.proposals.FindByJobID(ctx, job.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			var extraction *Extraction
			if cp != nil {
				extraction = cp.Extraction
			}
			checkpoint, err := json.Marshal(Checkpoint{
				Stage:      CheckpointStageProposed,
				Extraction: extraction,
				ProposalID: &existing.ID,
			})
			if err != nil {
				return err
			}
			return s.transition(ctx, job, pipeline.JobStateProposed, checkpoint, "", nil, nil)
		}
	}

	if cp == nil || cp.Extraction == nil {
		return shared.NewDomainError("MISSING_CHECKPOINT", "Job has no extraction checkpoint to propose from")
	}

	if job.State == pipeline.JobStateExtracted {
		if err := s.transition(ctx, job, pipeline.JobStateProposing, nil, "", nil, nil); err != nil {
			return err
		}
	}

	draft, err := s.proposer.Propose(ctx, job, cp.Extraction)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}

	proposal, err := ledger.NewProposal(job.TenantID, job.ID, draft.DocType, draft.Lines,
		draft.Confidence, mustJSON(draft.Risks))
	if err != nil {
		return err
	}

	// The extraction rides along so the policy stage can evaluate vendor
	// and tax-rate findings without re-reading the document.
	checkpoint, err := json.Marshal(Checkpoint{
		Stage:      CheckpointStageProposed,
		Extraction: cp.Extraction,
		ProposalID: &proposal.ID,
	})
	if err != nil {
		return err
	}
	zoneMeta := mustJSON(map[string]interface{}{
		"proposal_id": proposal.ID.String(),
		"confidence":  draft.Confidence,
	})
	return s.transition(ctx, job, pipeline.JobStateProposed, checkpoint, pipeline.ZoneProposed, zoneMeta,
		func(tx *gorm.DB) error {
			if err := s.proposals.CreateTx(ctx, tx, proposal); err != nil {
				return err
			}
			if err := s.outbox.SaveEvents(ctx, tx, proposal.GetDomainEvents()...); err != nil {
				return err
			}
			proposal.ClearDomainEvents()
			return nil
		})
}

// decide evaluates the policy ruleset against the fresh proposal and routes
// the job: auto-post, suspend for approval, or reject.
func (s *Service) decide(ctx context.Context, job *pipeline.Job) error {
	proposal, err := s.proposals.FindByJobID(ctx, job.ID)
	if err != nil {
		return err
	}
	if proposal == nil {
		return shared.NewDomainError("MISSING_PROPOSAL", "Job in PROPOSED state has no proposal")
	}

	cp, err := DecodeCheckpoint(job.Checkpoint)
	if err != nil {
		return err
	}
	input := policy.Input{Proposal: proposal}
	if cp != nil && cp.Extraction != nil {
		input.Vendor = cp.Extraction.Vendor
		input.TaxRate = cp.Extraction.TaxRate
	}

	decision := s.engine.Evaluate(input)
	decisionJSON := mustJSON(decision)
	policyAudit, err := audit.NewEvent(job.TenantID, job.ID, audit.EventPolicyEvaluated,
		"policy", decisionJSON, job.RequestID)
	if err != nil {
		return err
	}

	switch decision.Overall {
	case policy.ResultApproved:
		if err := proposal.Approve("policy"); err != nil {
			return err
		}
		return s.transition(ctx, job, pipeline.JobStatePosting, nil, "", nil,
			func(tx *gorm.DB) error {
				if err := s.proposals.UpdateTx(ctx, tx, proposal); err != nil {
					return err
				}
				if err := s.outbox.SaveEvents(ctx, tx, proposal.GetDomainEvents()...); err != nil {
					return err
				}
				proposal.ClearDomainEvents()
				return s.auditor.RecordTx(ctx, tx, policyAudit)
			})

	case policy.ResultRequiresReview:
		reason := summarizeFindings(decision)
		pending, err := approval.NewApproval(job.TenantID, proposal.ID, job.ID, reason, s.cfg.ApprovalTimeout)
		if err != nil {
			return err
		}
		return s.transition(ctx, job, pipeline.JobStateWaitingForApproval, nil, "", nil,
			func(tx *gorm.DB) error {
				if err := s.approvals.CreateTx(ctx, tx, pending); err != nil {
					return err
				}
				if err := s.outbox.SaveEvents(ctx, tx, pending.GetDomainEvents()...); err != nil {
					return err
				}
				pending.ClearDomainEvents()
				if err := s.auditor.RecordTx(ctx, tx, policyAudit); err != nil {
					return err
				}
				requested, err := audit.NewEvent(job.TenantID, job.ID, audit.EventApprovalRequested,
					"policy", mustJSON(map[string]string{
						"approval_id": pending.ID.String(),
						"reason":      reason,
					}), job.RequestID)
				if err != nil {
					return err
				}
				return s.auditor.RecordTx(ctx, tx, requested)
			})

	default: // policy.ResultRejected
		reason := summarizeFindings(decision)
		if err := proposal.Reject("policy", reason); err != nil {
			return err
		}
		if err := job.Fail("rejected by policy: " + reason); err != nil {
			return err
		}
		return s.persistJob(ctx, job, func(tx *gorm.DB) error {
			if err := s.proposals.UpdateTx(ctx, tx, proposal); err != nil {
				return err
			}
			if err := s.outbox.SaveEvents(ctx, tx, proposal.GetDomainEvents()...); err != nil {
				return err
			}
			proposal.ClearDomainEvents()
			if err := s.auditor.RecordTx(ctx, tx, policyAudit); err != nil {
				return err
			}
			failed, err := audit.NewEvent(job.TenantID, job.ID, audit.EventJobFailed,
				"policy", mustJSON(map[string]string{"reason": reason}), job.RequestID)
			if err != nil {
				return err
			}
			return s.auditor.RecordTx(ctx, tx, failed)
		})
	}
}

// transition moves the job to newState and commits everything that belongs
// to the move in one transaction: the job row, the optional zone record, the
// outbox rows for the job's events, the audit trail, and any extra writes.
func (s *Service) transition(
	ctx context.Context,
	job *pipeline.Job,
	newState pipeline.JobState,
	checkpoint []byte,
	zone pipeline.Zone,
	zoneMeta []byte,
	extra func(tx *gorm.DB) error,
) error {
	from := job.State
	if err := job.TransitionTo(newState, checkpoint); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		if err := s.jobs.UpdateTx(ctx, tx, job); err != nil {
			return err
		}
		if err := s.outbox.SaveEvents(ctx, tx, job.GetDomainEvents()...); err != nil {
			return err
		}
		job.ClearDomainEvents()

		stateAudit, err := audit.NewEvent(job.TenantID, job.ID, audit.EventStateChanged,
			"system", mustJSON(map[string]string{
				"from": string(from),
				"to":   string(newState),
			}), job.RequestID)
		if err != nil {
			return err
		}
		if err := s.auditor.RecordTx(ctx, tx, stateAudit); err != nil {
			return err
		}

		if zone == "" {
			return nil
		}
		record, err := pipeline.NewDataZoneRecord(job.TenantID, job.ID, zone, zoneMeta)
		if err != nil {
			return err
		}
		if err := s.zones.AppendTx(ctx, tx, record); err != nil {
			return err
		}
		zoneAudit, err := audit.NewEvent(job.TenantID, job.ID, audit.EventZoneEntered,
			"system", mustJSON(map[string]string{"zone": string(zone)}), job.RequestID)
		if err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, zoneAudit)
	})
}

// persistJob commits an already mutated job together with its events and any
// extra writes. Used for Fail, which is not a graph transition.
func (s *Service) persistJob(ctx context.Context, job *pipeline.Job, extra func(tx *gorm.DB) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		if err := s.jobs.UpdateTx(ctx, tx, job); err != nil {
			return err
		}
		if err := s.outbox.SaveEvents(ctx, tx, job.GetDomainEvents()...); err != nil {
			return err
		}
		job.ClearDomainEvents()
		return nil
	})
}

// failJob moves the job to FAILED, keeping its checkpoint so the last good
// intermediate result stays inspectable. The original stage error is
// returned so callers see why processing stopped.
func (s *Service) failJob(ctx context.Context, job *pipeline.Job, cause error) error {
	if job.State.IsTerminal() {
		return cause
	}
	if err := job.Fail(cause.Error()); err != nil {
		return cause
	}

	err := s.persistJob(ctx, job, func(tx *gorm.DB) error {
		failed, auditErr := audit.NewEvent(job.TenantID, job.ID, audit.EventJobFailed,
			"system", mustJSON(map[string]string{"reason": cause.Error()}), job.RequestID)
		if auditErr != nil {
			return auditErr
		}
		return s.auditor.RecordTx(ctx, tx, failed)
	})
	if err != nil {
		s.logger.Error("Failed to persist job failure",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	} else {
		s.logger.Warn("Job failed",
			zap.String("job_id", job.ID.String()),
			zap.String("reason", cause.Error()),
		)
	}
	return cause
}

// summarizeFindings joins the messages of non-passing rule results
func summarizeFindings(decision policy.Decision) string {
	var parts []string
	for _, result := range decision.Results {
		if result.Result == policy.ResultPass || result.Result == policy.ResultSkip {
			continue
		}
		if result.Message != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", result.Rule, result.Message))
		} else {
			parts = append(parts, string(result.Rule))
		}
	}
	if len(parts) == 0 {
		return string(decision.Overall)
	}
	return strings.Join(parts, "; ")
}
