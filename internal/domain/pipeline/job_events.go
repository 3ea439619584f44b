package pipeline

import (
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type names published by the pipeline
const (
	EventTypeJobCreated      = "JobCreated"
	EventTypeJobStateChanged = "JobStateChanged"
	EventTypeJobCompleted    = "JobCompleted"
	EventTypeJobFailed       = "JobFailed"
)

// JobCreatedEvent is raised when a document upload creates a new job
type JobCreatedEvent struct {
	shared.BaseDomainEvent
	JobID            uuid.UUID `json:"job_id"`
	DocumentName     string    `json:"document_name"`
	DocumentChecksum string    `json:"document_checksum"`
	StorageKey       string    `json:"storage_key"`
}

// EventType returns the event type name
func (e *JobCreatedEvent) EventType() string {
	return EventTypeJobCreated
}

// NewJobCreatedEvent creates a new JobCreatedEvent
func NewJobCreatedEvent(job *Job) *JobCreatedEvent {
	return &JobCreatedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeJobCreated, "Job", job.ID, job.TenantID),
		JobID:            job.ID,
		DocumentName:     job.DocumentName,
		DocumentChecksum: job.DocumentChecksum,
		StorageKey:       job.StorageKey,
	}
}

// JobStateChangedEvent is raised on every job state transition
type JobStateChangedEvent struct {
	shared.BaseDomainEvent
	JobID     uuid.UUID `json:"job_id"`
	FromState JobState  `json:"from_state"`
	ToState   JobState  `json:"to_state"`
}

// EventType returns the event type name
func (e *JobStateChangedEvent) EventType() string {
	return EventTypeJobStateChanged
}

// NewJobStateChangedEvent creates a new JobStateChangedEvent
func NewJobStateChangedEvent(job *Job, from JobState) *JobStateChangedEvent {
	return &JobStateChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeJobStateChanged, "Job", job.ID, job.TenantID),
		JobID:           job.ID,
		FromState:       from,
		ToState:         job.State,
	}
}

// JobCompletedEvent is raised when a job reaches COMPLETED
type JobCompletedEvent struct {
	shared.BaseDomainEvent
	JobID uuid.UUID `json:"job_id"`
}

// EventType returns the event type name
func (e *JobCompletedEvent) EventType() string {
	return EventTypeJobCompleted
}

// NewJobCompletedEvent creates a new JobCompletedEvent
func NewJobCompletedEvent(job *Job) *JobCompletedEvent {
	return &JobCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeJobCompleted, "Job", job.ID, job.TenantID),
		JobID:           job.ID,
	}
}

// JobFailedEvent is raised when a job reaches FAILED
type JobFailedEvent struct {
	shared.BaseDomainEvent
	JobID  uuid.UUID `json:"job_id"`
	Reason string    `json:"reason"`
}

// EventType returns the event type name
func (e *JobFailedEvent) EventType() string {
	return EventTypeJobFailed
}

// NewJobFailedEvent creates a new JobFailedEvent
func NewJobFailedEvent(job *Job, reason string) *JobFailedEvent {
	return &JobFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeJobFailed, "Job", job.ID, job.TenantID),
		JobID:           job.ID,
		Reason:          reason,
	}
}
