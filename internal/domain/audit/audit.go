package audit

import (
	"context"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Well-known audit event types. Handlers may record additional free-form
// types; these cover the pipeline's own transitions and decisions.
const (
	EventDocumentUploaded  = "document.uploaded"
	EventDuplicateDetected = "document.duplicate_detected"
	EventStateChanged      = "job.state_changed"
	EventZoneEntered       = "job.zone_entered"
	EventPolicyEvaluated   = "policy.evaluated"
	EventApprovalRequested = "approval.requested"
	EventApprovalDecided   = "approval.decided"
	EventApprovalCancelled = "approval.cancelled"
	EventLedgerPosted      = "ledger.posted"
	EventJobFailed         = "job.failed"
	EventDeliveryAttempt   = "outbox.delivery_attempt"
)

// Event is one immutable audit fact. There is no update or delete: the
// audit log is the system's ground truth for what happened when.
type Event struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	JobID     uuid.UUID `gorm:"type:uuid;index:idx_audit_events_job" json:"job_id"`
	EventType string    `gorm:"type:varchar(60);not null;index" json:"event_type"`
	Actor     string    `gorm:"type:varchar(100);not null" json:"actor"`
	Payload   []byte    `gorm:"type:jsonb" json:"payload,omitempty"`
	RequestID string    `gorm:"type:varchar(64)" json:"request_id,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName returns the table name for GORM
func (Event) TableName() string {
	return "audit_events"
}

// NewEvent creates an audit event. Actor defaults to "system" when empty.
func NewEvent(tenantID, jobID uuid.UUID, eventType, actor string, payload []byte, requestID string) (*Event, error) {
	if eventType == "" {
		return nil, shared.NewDomainError("INVALID_EVENT_TYPE", "Audit event type cannot be empty")
	}
	if actor == "" {
		actor = "system"
	}
	return &Event{
		ID:        uuid.New(),
		TenantID:  tenantID,
		JobID:     jobID,
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
		RequestID: requestID,
		CreatedAt: time.Now(),
	}, nil
}

// Recorder appends audit events. The interface is deliberately append-only.
type Recorder interface {
	// Record appends an audit event
	Record(ctx context.Context, event *Event) error
	// RecordTx appends an audit event inside the caller's transaction so the
	// fact commits atomically with the change it describes
	RecordTx(ctx context.Context, tx *gorm.DB, event *Event) error
}

// Repository reads the audit log
type Repository interface {
	Recorder
	// FindByJobID returns the ordered timeline for one job
	FindByJobID(ctx context.Context, jobID uuid.UUID) ([]*Event, error)
	// FindByTenant returns a time-ordered slice for a tenant
	FindByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Event, int64, error)
}
