package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QueryService serves read-only views over jobs, their lineage, proposals
// and posted entries. All lookups are tenant-checked: a job belonging to
// another tenant is indistinguishable from a missing one.
type QueryService struct {
	jobs      pipeline.JobRepository
	zones     pipeline.DataZoneRepository
	proposals ledger.ProposalRepository
	entries   ledger.LedgerRepository
	auditLog  audit.Repository
}

// NewQueryService creates a query service
func NewQueryService(
	jobs pipeline.JobRepository,
	zones pipeline.DataZoneRepository,
	proposals ledger.ProposalRepository,
	entries ledger.LedgerRepository,
	auditLog audit.Repository,
) *QueryService {
	return &QueryService{
		jobs:      jobs,
		zones:     zones,
		proposals: proposals,
		entries:   entries,
		auditLog:  auditLog,
	}
}

// JobDTO is the API view of a job
type JobDTO struct {
	ID           uuid.UUID       `json:"id"`
	State        string          `json:"state"`
	DocumentName string          `json:"document_name"`
	Checksum     string          `json:"checksum"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Checkpoint   json.RawMessage `json:"checkpoint,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
}

// JobListDTO is a page of jobs
type JobListDTO struct {
	Jobs     []JobDTO `json:"jobs"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// ZoneDTO is one lineage record
type ZoneDTO struct {
	Zone      string          `json:"zone"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// TimelineEventDTO is one audit fact on a job's timeline
type TimelineEventDTO struct {
	EventType string          `json:"event_type"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProposalLineDTO is one journal line of a proposal
type ProposalLineDTO struct {
	LineNo      int             `json:"line_no"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

// ProposalDTO is the API view of a journal entry proposal
type ProposalDTO struct {
	ID           uuid.UUID         `json:"id"`
	JobID        uuid.UUID         `json:"job_id"`
	DocType      string            `json:"doc_type"`
	Status       string            `json:"status"`
	Confidence   float64           `json:"confidence"`
	Risks        json.RawMessage   `json:"risks,omitempty"`
	Lines        []ProposalLineDTO `json:"lines"`
	TotalDebit   decimal.Decimal   `json:"total_debit"`
	TotalCredit  decimal.Decimal   `json:"total_credit"`
	ReviewedBy   *string           `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time        `json:"reviewed_at,omitempty"`
	RejectReason string            `json:"reject_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// LedgerEntryDTO is the API view of a posted ledger entry
type LedgerEntryDTO struct {
	ID            uuid.UUID         `json:"id"`
	JournalNumber string            `json:"journal_number"`
	EntryDate     time.Time         `json:"entry_date"`
	Description   string            `json:"description,omitempty"`
	TotalDebit    decimal.Decimal   `json:"total_debit"`
	TotalCredit   decimal.Decimal   `json:"total_credit"`
	Lines         []ProposalLineDTO `json:"lines"`
}

// GetJob returns one job owned by the tenant
func (s *QueryService) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*JobDTO, error) {
	job, err := s.ownedJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	dto := toJobDTO(job)
	return &dto, nil
}

// ListJobs returns a page of the tenant's jobs, newest first
func (s *QueryService) ListJobs(ctx context.Context, tenantID uuid.UUID, page, pageSize int) (*JobListDTO, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	jobs, total, err := s.jobs.FindByTenant(ctx, tenantID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	dtos := make([]JobDTO, len(jobs))
	for i, job := range jobs {
		dtos[i] = toJobDTO(job)
	}
	return &JobListDTO{Jobs: dtos, Total: total, Page: page, PageSize: pageSize}, nil
}

// GetTimeline returns the job's full audit timeline, oldest first
func (s *QueryService) GetTimeline(ctx context.Context, tenantID, jobID uuid.UUID) ([]TimelineEventDTO, error) {
	if _, err := s.ownedJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	events, err := s.auditLog.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	dtos := make([]TimelineEventDTO, len(events))
	for i, event := range events {
		dtos[i] = TimelineEventDTO{
			EventType: event.EventType,
			Actor:     event.Actor,
			Payload:   event.Payload,
			RequestID: event.RequestID,
			CreatedAt: event.CreatedAt,
		}
	}
	return dtos, nil
}

// GetZones returns the job's lineage history, oldest first
func (s *QueryService) GetZones(ctx context.Context, tenantID, jobID uuid.UUID) ([]ZoneDTO, error) {
	if _, err := s.ownedJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	records, err := s.zones.JobZones(ctx, jobID)
	if err != nil {
		return nil, err
	}
	dtos := make([]ZoneDTO, len(records))
	for i, record := range records {
		dtos[i] = ZoneDTO{
			Zone:      string(record.Zone),
			Status:    string(record.Status),
			Metadata:  record.Metadata,
			CreatedAt: record.CreatedAt,
		}
	}
	return dtos, nil
}

// GetProposal returns the job's proposal
func (s *QueryService) GetProposal(ctx context.Context, tenantID, jobID uuid.UUID) (*ProposalDTO, error) {
	if _, err := s.ownedJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	proposal, err := s.proposals.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, shared.ErrNotFound
	}

	lines := make([]ProposalLineDTO, len(proposal.Lines))
	for i, line := range proposal.Lines {
		lines[i] = ProposalLineDTO{
			LineNo:      line.LineNo,
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		}
	}
	return &ProposalDTO{
		ID:           proposal.ID,
		JobID:        proposal.JobID,
		DocType:      proposal.DocType,
		Status:       string(proposal.Status),
		Confidence:   proposal.Confidence,
		Risks:        proposal.Risks,
		Lines:        lines,
		TotalDebit:   proposal.TotalDebit(),
		TotalCredit:  proposal.TotalCredit(),
		ReviewedBy:   proposal.ReviewedBy,
		ReviewedAt:   proposal.ReviewedAt,
		RejectReason: proposal.RejectReason,
		CreatedAt:    proposal.CreatedAt,
	}, nil
}

// GetLedgerEntry returns the entry posted for the job's proposal
func (s *QueryService) GetLedgerEntry(ctx context.Context, tenantID, jobID uuid.UUID) (*LedgerEntryDTO, error) {
	if _, err := s.ownedJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	proposal, err := s.proposals.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, shared.ErrNotFound
	}
	entry, err := s.entries.FindByProposalID(ctx, proposal.ID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, shared.ErrNotFound
	}

	lines := make([]ProposalLineDTO, len(entry.Lines))
	for i, line := range entry.Lines {
		lines[i] = ProposalLineDTO{
			LineNo:      line.LineNo,
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		}
	}
	return &LedgerEntryDTO{
		ID:            entry.ID,
		JournalNumber: entry.JournalNumber,
		EntryDate:     entry.EntryDate,
		Description:   entry.Description,
		TotalDebit:    entry.TotalDebit,
		TotalCredit:   entry.TotalCredit,
		Lines:         lines,
	}, nil
}

func (s *QueryService) ownedJob(ctx context.Context, tenantID, jobID uuid.UUID) (*pipeline.Job, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return job, nil
}

func toJobDTO(job *pipeline.Job) JobDTO {
	return JobDTO{
		ID:           job.ID,
		State:        string(job.State),
		DocumentName: job.DocumentName,
		Checksum:     job.DocumentChecksum,
		ErrorMessage: job.ErrorMessage,
		RequestID:    job.RequestID,
		Checkpoint:   job.Checkpoint,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
		FailedAt:     job.FailedAt,
	}
}
