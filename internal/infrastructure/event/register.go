package event

import (
	"github.com/docuflow/backend/internal/domain/approval"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
)

// RegisterDomainEvents registers every domain event type with the
// serializer so outbox rows can be deserialized back to typed events.
// An event type missing here dead-letters on delivery, so keep this list
// in sync with the domain packages.
func RegisterDomainEvents(s *EventSerializer) {
	// pipeline
	s.Register(pipeline.EventTypeJobCreated, &pipeline.JobCreatedEvent{})
	s.Register(pipeline.EventTypeJobStateChanged, &pipeline.JobStateChangedEvent{})
	s.Register(pipeline.EventTypeJobCompleted, &pipeline.JobCompletedEvent{})
	s.Register(pipeline.EventTypeJobFailed, &pipeline.JobFailedEvent{})

	// ledger
	s.Register(ledger.EventTypeProposalCreated, &ledger.ProposalCreatedEvent{})
	s.Register(ledger.EventTypeProposalApproved, &ledger.ProposalApprovedEvent{})
	s.Register(ledger.EventTypeProposalRejected, &ledger.ProposalRejectedEvent{})
	s.Register(ledger.EventTypeLedgerPosted, &ledger.LedgerPostedEvent{})

	// approval
	s.Register(approval.EventTypeApprovalRequested, &approval.ApprovalRequestedEvent{})
	s.Register(approval.EventTypeApprovalDecided, &approval.ApprovalDecidedEvent{})
	s.Register(approval.EventTypeApprovalCancelled, &approval.ApprovalCancelledEvent{})
}
