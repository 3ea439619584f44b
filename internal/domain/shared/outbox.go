package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the delivery status of an outbox event
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusDelivered  OutboxStatus = "DELIVERED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusDeadLetter OutboxStatus = "DEAD_LETTER"
)

// Default retry configuration
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = time.Second
)

// OutboxEvent represents an event stored in the outbox for reliable delivery.
// Rows are inserted in the same transaction as the business write they
// announce and delivered asynchronously by the outbox worker.
type OutboxEvent struct {
	ID            uuid.UUID    `gorm:"type:uuid;primary_key"`
	TenantID      uuid.UUID    `gorm:"type:uuid;not null;index"`
	EventID       uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex"`
	EventType     string       `gorm:"type:varchar(100);not null;index"`
	AggregateID   uuid.UUID    `gorm:"type:uuid;not null"`
	AggregateType string       `gorm:"type:varchar(100);not null"`
	Payload       []byte       `gorm:"type:jsonb;not null"`
	Status        OutboxStatus `gorm:"type:varchar(20);not null;index;default:'PENDING'"`
	Attempts      int          `gorm:"not null;default:0"`
	MaxAttempts   int          `gorm:"not null;default:5"`
	LastError     string       `gorm:"type:text"`
	NextAttemptAt *time.Time   `gorm:"index"`
	DeliveredAt   *time.Time
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// NewOutboxEvent creates a new pending outbox event for a domain event
func NewOutboxEvent(tenantID uuid.UUID, event DomainEvent, payload []byte) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		TenantID:      tenantID,
		EventID:       event.EventID(),
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		Payload:       payload,
		Status:        OutboxStatusPending,
		Attempts:      0,
		MaxAttempts:   DefaultMaxAttempts,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

// CanRetry returns true if the event has retry budget left
func (e *OutboxEvent) CanRetry() bool {
	return e.Status == OutboxStatusFailed && e.Attempts < e.MaxAttempts
}

// MarkProcessing marks the event as claimed by a worker.
// Only pending or failed events can be claimed; a delivered event never
// regresses.
func (e *OutboxEvent) MarkProcessing() error {
	if e.Status != OutboxStatusPending && e.Status != OutboxStatusFailed {
		return errors.New("can only mark pending or failed events as processing")
	}
	e.Status = OutboxStatusProcessing
	e.UpdatedAt = time.Now()
	return nil
}

// MarkDelivered marks the event as delivered to all subscribers
func (e *OutboxEvent) MarkDelivered() {
	now := time.Now()
	e.Status = OutboxStatusDelivered
	e.DeliveredAt = &now
	e.UpdatedAt = now
}

// MarkFailed records a failed delivery attempt. The event returns to the
// retryable pool with an exponential backoff, or moves to dead letter once
// the attempt budget is exhausted.
func (e *OutboxEvent) MarkFailed(errMsg string) {
	e.Attempts++
	e.LastError = errMsg
	e.UpdatedAt = time.Now()

	if e.Attempts >= e.MaxAttempts {
		e.Status = OutboxStatusDeadLetter
		e.NextAttemptAt = nil
	} else {
		e.Status = OutboxStatusFailed
		// Exponential backoff: 1s, 2s, 4s, 8s, ...
		backoff := DefaultBaseBackoff * time.Duration(1<<uint(e.Attempts-1))
		next := time.Now().Add(backoff)
		e.NextAttemptAt = &next
	}
}

// ResetForRetry requeues a dead letter event for delivery
func (e *OutboxEvent) ResetForRetry() error {
	if e.Status != OutboxStatusDeadLetter {
		return errors.New("can only retry dead letter events")
	}
	e.Status = OutboxStatusPending
	e.Attempts = 0
	e.LastError = ""
	e.NextAttemptAt = nil
	e.UpdatedAt = time.Now()
	return nil
}

// IsDeadLetter returns true if the event exhausted its retry budget
func (e *OutboxEvent) IsDeadLetter() bool {
	return e.Status == OutboxStatusDeadLetter
}

// OutboxRepository defines the interface for outbox persistence
type OutboxRepository interface {
	// Save persists one or more outbox events
	Save(ctx context.Context, events ...*OutboxEvent) error
	// FindPending retrieves pending events up to the specified limit
	FindPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	// FindRetryable retrieves failed events that are due for retry
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]*OutboxEvent, error)
	// FindDeadLetter retrieves dead letter events with pagination
	FindDeadLetter(ctx context.Context, page, pageSize int) ([]*OutboxEvent, int64, error)
	// FindByID retrieves a single outbox event by ID
	FindByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error)
	// MarkProcessing atomically claims events and returns them
	MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*OutboxEvent, error)
	// RequeueStale returns PROCESSING events whose claim is older than
	// before back to PENDING, recovering rows stranded by a worker that
	// crashed between claiming and updating
	RequeueStale(ctx context.Context, before time.Time) (int64, error)
	// Update updates an existing outbox event
	Update(ctx context.Context, event *OutboxEvent) error
	// DeleteOlderThan deletes delivered events older than the specified time
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	// CountByStatus returns count of events for each status
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
}

// DeliveryType identifies how a subscription receives events
type DeliveryType string

const (
	DeliveryTypeWebhook  DeliveryType = "webhook"
	DeliveryTypeInternal DeliveryType = "internal"
	DeliveryTypeWorkflow DeliveryType = "workflow"
)

// IsValid returns true for a known delivery type
func (t DeliveryType) IsValid() bool {
	switch t {
	case DeliveryTypeWebhook, DeliveryTypeInternal, DeliveryTypeWorkflow:
		return true
	}
	return false
}

// Subscription routes outbox events of one event type to a delivery target
type Subscription struct {
	ID        uuid.UUID    `gorm:"type:uuid;primary_key"`
	TenantID  uuid.UUID    `gorm:"type:uuid;not null;index:idx_subscriptions_tenant_type"`
	EventType string       `gorm:"type:varchar(100);not null;index:idx_subscriptions_tenant_type"`
	Delivery  DeliveryType `gorm:"type:varchar(20);not null"`
	// Target holds delivery-specific configuration: a URL for webhooks,
	// a handler name for internal delivery, a signal name for workflows.
	Target    string    `gorm:"type:varchar(500);not null"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (Subscription) TableName() string {
	return "event_subscriptions"
}

// NewSubscription creates an active subscription
func NewSubscription(tenantID uuid.UUID, eventType string, delivery DeliveryType, target string) (*Subscription, error) {
	if eventType == "" {
		return nil, NewDomainError("INVALID_EVENT_TYPE", "Event type cannot be empty")
	}
	if !delivery.IsValid() {
		return nil, NewDomainError("INVALID_DELIVERY_TYPE", "Delivery type must be webhook, internal or workflow")
	}
	now := time.Now()
	return &Subscription{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EventType: eventType,
		Delivery:  delivery,
		Target:    target,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	Save(ctx context.Context, sub *Subscription) error
	FindActiveByEventType(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*Subscription, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// DeliveryAttempt records one delivery attempt of an outbox event to a
// subscription, successful or not. Used for observability and audit.
type DeliveryAttempt struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	OutboxEventID  uuid.UUID `gorm:"type:uuid;not null;index"`
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null"`
	Success        bool      `gorm:"not null"`
	ResponseCode   int
	DurationMs     int64
	Error          string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeliveryAttempt) TableName() string {
	return "outbox_delivery_attempts"
}

// DeliveryAttemptRepository persists delivery attempt logs
type DeliveryAttemptRepository interface {
	Save(ctx context.Context, attempt *DeliveryAttempt) error
	FindByOutboxEvent(ctx context.Context, outboxEventID uuid.UUID) ([]*DeliveryAttempt, error)
}
