package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deliverer sends one event to one subscription target. ResponseCode is
// zero for non-HTTP delivery types.
type Deliverer interface {
	Deliver(ctx context.Context, sub *shared.Subscription, event shared.DomainEvent, payload []byte) (responseCode int, err error)
}

// WorkflowSignaler resumes a suspended workflow in response to an event.
// The approval service implements this to wake jobs waiting on a decision.
type WorkflowSignaler interface {
	Signal(ctx context.Context, tenantID uuid.UUID, signal string, event shared.DomainEvent) error
}

// DeliveryRouter maps delivery types to deliverers. The map is closed at
// construction; a subscription with an unknown delivery type fails delivery
// rather than being silently skipped.
type DeliveryRouter struct {
	deliverers map[shared.DeliveryType]Deliverer
}

// NewDeliveryRouter builds a router over the three supported delivery types
func NewDeliveryRouter(webhook, internal, workflow Deliverer) *DeliveryRouter {
	return &DeliveryRouter{
		deliverers: map[shared.DeliveryType]Deliverer{
			shared.DeliveryTypeWebhook:  webhook,
			shared.DeliveryTypeInternal: internal,
			shared.DeliveryTypeWorkflow: workflow,
		},
	}
}

// Deliver routes the event to the deliverer for the subscription's type
func (r *DeliveryRouter) Deliver(ctx context.Context, sub *shared.Subscription, event shared.DomainEvent, payload []byte) (int, error) {
	d, ok := r.deliverers[sub.Delivery]
	if !ok || d == nil {
		return 0, fmt.Errorf("no deliverer for delivery type %q", sub.Delivery)
	}
	return d.Deliver(ctx, sub, event, payload)
}

// webhookEnvelope is the JSON body posted to webhook subscribers
type webhookEnvelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// WebhookDeliverer posts events to external HTTP endpoints
type WebhookDeliverer struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebhookDeliverer creates a webhook deliverer with a bounded timeout
func NewWebhookDeliverer(timeout time.Duration, logger *zap.Logger) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDeliverer{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver posts the event envelope to the subscription target URL.
// Any non-2xx response counts as a failed attempt.
func (d *WebhookDeliverer) Deliver(ctx context.Context, sub *shared.Subscription, event shared.DomainEvent, payload []byte) (int, error) {
	body, err := json.Marshal(webhookEnvelope{
		EventID:       event.EventID(),
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		TenantID:      event.TenantID(),
		OccurredAt:    event.OccurredAt(),
		Payload:       payload,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.EventID().String())
	req.Header.Set("X-Event-Type", event.EventType())

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook %s returned status %d", sub.Target, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// InternalDeliverer dispatches events to in-process handlers via the bus
type InternalDeliverer struct {
	bus shared.EventPublisher
}

// NewInternalDeliverer creates an internal deliverer
func NewInternalDeliverer(bus shared.EventPublisher) *InternalDeliverer {
	return &InternalDeliverer{bus: bus}
}

// Deliver publishes the event on the in-process bus
func (d *InternalDeliverer) Deliver(ctx context.Context, _ *shared.Subscription, event shared.DomainEvent, _ []byte) (int, error) {
	return 0, d.bus.Publish(ctx, event)
}

// WorkflowDeliverer signals suspended workflows. The subscription target is
// the signal name the workflow waits on.
type WorkflowDeliverer struct {
	signaler WorkflowSignaler
}

// NewWorkflowDeliverer creates a workflow deliverer
func NewWorkflowDeliverer(signaler WorkflowSignaler) *WorkflowDeliverer {
	return &WorkflowDeliverer{signaler: signaler}
}

// Deliver signals the workflow identified by the subscription target
func (d *WorkflowDeliverer) Deliver(ctx context.Context, sub *shared.Subscription, event shared.DomainEvent, _ []byte) (int, error) {
	if d.signaler == nil {
		return 0, fmt.Errorf("no workflow signaler configured")
	}
	return 0, d.signaler.Signal(ctx, sub.TenantID, sub.Target, event)
}
