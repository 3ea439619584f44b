package event

import (
	"context"

	"github.com/docuflow/backend/internal/domain/approval"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// NotificationHandler is the default internal-delivery consumer. It turns
// the events a back office cares about into structured log notifications:
// a job suspending for review, a job failing, an approval decision landing.
// Subscriptions with delivery "internal" fan into this handler through the
// event bus, so it must tolerate redelivery; wrap it with IdempotentHandler
// when the side effect must not repeat.
type NotificationHandler struct {
	logger *zap.Logger
}

// NewNotificationHandler creates a notification handler
func NewNotificationHandler(logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{logger: logger.Named("notifications")}
}

// EventTypes returns the event types this handler consumes
func (h *NotificationHandler) EventTypes() []string {
	return []string{
		pipeline.EventTypeJobFailed,
		approval.EventTypeApprovalRequested,
		approval.EventTypeApprovalDecided,
	}
}

// Handle emits one notification per event
func (h *NotificationHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *pipeline.JobFailedEvent:
		h.logger.Warn("job failed",
			zap.String("tenant_id", e.TenantID().String()),
			zap.String("job_id", e.JobID.String()),
			zap.String("reason", e.Reason),
		)
	case *approval.ApprovalRequestedEvent:
		h.logger.Info("job waiting for review",
			zap.String("tenant_id", e.TenantID().String()),
			zap.String("job_id", e.JobID.String()),
			zap.String("approval_id", e.ApprovalID.String()),
			zap.String("reason", e.Reason),
			zap.Time("expires_at", e.ExpiresAt),
		)
	case *approval.ApprovalDecidedEvent:
		h.logger.Info("approval decided",
			zap.String("tenant_id", e.TenantID().String()),
			zap.String("job_id", e.JobID.String()),
			zap.String("approval_id", e.ApprovalID.String()),
			zap.String("status", string(e.Status)),
			zap.String("decided_by", e.DecidedBy),
		)
	default:
		h.logger.Debug("event received",
			zap.String("event_type", event.EventType()),
			zap.String("aggregate_id", event.AggregateID().String()),
		)
	}
	return nil
}
