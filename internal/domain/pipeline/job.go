package pipeline

import (
	"fmt"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// JobState is the processing state of a document job
type JobState string

const (
	JobStateUploaded           JobState = "UPLOADED"
	JobStateExtracting         JobState = "EXTRACTING"
	JobStateExtracted          JobState = "EXTRACTED"
	JobStateProposing          JobState = "PROPOSING"
	JobStateProposed           JobState = "PROPOSED"
	JobStateWaitingForApproval JobState = "WAITING_FOR_APPROVAL"
	JobStatePosting            JobState = "POSTING"
	JobStateCompleted          JobState = "COMPLETED"
	JobStateFailed             JobState = "FAILED"
)

// validTransitions is the canonical edge table of the job state machine.
// FAILED is reachable from every non-terminal state and is absorbing.
var validTransitions = map[JobState][]JobState{
	JobStateUploaded:           {JobStateExtracting, JobStateFailed},
	JobStateExtracting:         {JobStateExtracted, JobStateFailed},
	JobStateExtracted:          {JobStateProposing, JobStateFailed},
	JobStateProposing:          {JobStateProposed, JobStateFailed},
	JobStateProposed:           {JobStatePosting, JobStateWaitingForApproval, JobStateFailed},
	JobStateWaitingForApproval: {JobStatePosting, JobStateFailed},
	JobStatePosting:            {JobStateCompleted, JobStateFailed},
	JobStateCompleted:          {},
	JobStateFailed:             {},
}

// CanTransition reports whether the edge from -> to exists in the state graph
func CanTransition(from, to JobState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states a job never leaves
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// IsValid returns true for a known job state
func (s JobState) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Job is the aggregate root tracking one document through the processing
// pipeline. Only the pipeline orchestrator mutates it; jobs are never
// deleted, only superseded by a new upload.
type Job struct {
	shared.TenantAggregateRoot
	State            JobState   `gorm:"type:varchar(30);not null;index"`
	DocumentName     string     `gorm:"type:varchar(255);not null"`
	DocumentChecksum string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_jobs_tenant_checksum,priority:2"`
	StorageKey       string     `gorm:"type:varchar(512);not null"`
	// Checkpoint carries the last good intermediate result (extracted text,
	// proposal draft) as JSON so a failed job can expose where it stopped.
	Checkpoint    []byte     `gorm:"type:jsonb"`
	ErrorMessage  string     `gorm:"type:text"`
	RequestID     string     `gorm:"type:varchar(64);index"`
	CompletedAt   *time.Time
	FailedAt      *time.Time
}

// TableName returns the table name for GORM
func (Job) TableName() string {
	return "jobs"
}

// NewJob creates a job in the UPLOADED state
func NewJob(tenantID uuid.UUID, documentName, checksum, storageKey, requestID string) (*Job, error) {
	if documentName == "" {
		return nil, shared.NewDomainError("INVALID_DOCUMENT_NAME", "Document name cannot be empty")
	}
	if checksum == "" {
		return nil, shared.NewDomainError("INVALID_CHECKSUM", "Document checksum cannot be empty")
	}
	if storageKey == "" {
		return nil, shared.NewDomainError("INVALID_STORAGE_KEY", "Storage key cannot be empty")
	}

	job := &Job{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		State:               JobStateUploaded,
		DocumentName:        documentName,
		DocumentChecksum:    checksum,
		StorageKey:          storageKey,
		RequestID:           requestID,
	}

	job.AddDomainEvent(NewJobCreatedEvent(job))

	return job, nil
}

// TransitionTo moves the job along one edge of the state graph.
// The checkpoint, when non-nil, replaces the stored checkpoint payload.
func (j *Job) TransitionTo(newState JobState, checkpoint []byte) error {
	if !newState.IsValid() {
		return shared.NewDomainError("INVALID_TRANSITION", fmt.Sprintf("Unknown job state %q", newState))
	}
	if !CanTransition(j.State, newState) {
		return shared.NewDomainError("INVALID_TRANSITION",
			fmt.Sprintf("Cannot transition job from %s to %s", j.State, newState))
	}

	from := j.State
	now := time.Now()
	j.State = newState
	if checkpoint != nil {
		j.Checkpoint = checkpoint
	}
	if newState == JobStateCompleted {
		j.CompletedAt = &now
	}
	j.UpdatedAt = now

	j.AddDomainEvent(NewJobStateChangedEvent(j, from))
	if newState == JobStateCompleted {
		j.AddDomainEvent(NewJobCompletedEvent(j))
	}

	return nil
}

// Fail forces the job into FAILED with the reason retained. Legal from any
// non-terminal state; failing an already failed or completed job is an
// invalid transition.
func (j *Job) Fail(reason string) error {
	if j.State.IsTerminal() {
		return shared.NewDomainError("INVALID_TRANSITION",
			fmt.Sprintf("Cannot fail job in terminal state %s", j.State))
	}

	from := j.State
	now := time.Now()
	j.State = JobStateFailed
	j.ErrorMessage = reason
	j.FailedAt = &now
	j.UpdatedAt = now

	j.AddDomainEvent(NewJobStateChangedEvent(j, from))
	j.AddDomainEvent(NewJobFailedEvent(j, reason))

	return nil
}
