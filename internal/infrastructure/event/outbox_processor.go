package event

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutboxProcessorConfig holds configuration for the outbox processor
type OutboxProcessorConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	ClaimTimeout     time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultOutboxProcessorConfig returns default configuration
func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:        100,
		PollInterval:     5 * time.Second,
		ClaimTimeout:     5 * time.Minute,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour,
		CleanupInterval:  1 * time.Hour,
	}
}

// OutboxProcessor delivers outbox events in the background. Each claimed
// event is dispatched to the in-process bus and to every active
// subscription for its tenant and event type; delivery is at-least-once,
// so subscribers must tolerate redelivery.
type OutboxProcessor struct {
	repo       shared.OutboxRepository
	subs       shared.SubscriptionRepository
	attempts   shared.DeliveryAttemptRepository
	bus        shared.EventBus
	router     *DeliveryRouter
	serializer *EventSerializer
	config     OutboxProcessorConfig
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutboxProcessor creates a new outbox processor
func NewOutboxProcessor(
	repo shared.OutboxRepository,
	subs shared.SubscriptionRepository,
	attempts shared.DeliveryAttemptRepository,
	bus shared.EventBus,
	router *DeliveryRouter,
	serializer *EventSerializer,
	config OutboxProcessorConfig,
	logger *zap.Logger,
) *OutboxProcessor {
	return &OutboxProcessor{
		repo:       repo,
		subs:       subs,
		attempts:   attempts,
		bus:        bus,
		router:     router,
		serializer: serializer,
		config:     config,
		logger:     logger,
	}
}

// Start starts the background processing
func (p *OutboxProcessor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.processLoop(ctx)

	if p.config.CleanupEnabled {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}

	p.logger.Info("outbox processor started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
	)

	return nil
}

// Stop gracefully stops the processor
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("outbox processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processLoop is the main processing loop
func (p *OutboxProcessor) processLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

// processBatch processes a batch of pending and retryable events
func (p *OutboxProcessor) processBatch(ctx context.Context) {
	// Reclaim events a crashed worker left stuck in PROCESSING so they
	// re-enter the pending pool below.
	cutoff := time.Now().Add(-p.config.ClaimTimeout)
	if requeued, err := p.repo.RequeueStale(ctx, cutoff); err != nil {
		p.logger.Error("failed to requeue stale outbox claims", zap.Error(err))
	} else if requeued > 0 {
		p.logger.Warn("requeued stale outbox claims",
			zap.Int64("count", requeued),
			zap.Duration("claim_timeout", p.config.ClaimTimeout),
		)
	}

	pending, err := p.repo.FindPending(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to find pending events", zap.Error(err))
		return
	}
	if len(pending) > 0 {
		p.processEvents(ctx, pending)
	}

	retryable, err := p.repo.FindRetryable(ctx, time.Now(), p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to find retryable events", zap.Error(err))
		return
	}
	if len(retryable) > 0 {
		p.processEvents(ctx, retryable)
	}
}

// processEvents claims a slice of outbox events and delivers each one
func (p *OutboxProcessor) processEvents(ctx context.Context, events []*shared.OutboxEvent) {
	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}

	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		p.logger.Error("failed to claim outbox events", zap.Error(err))
		return
	}

	for _, row := range claimed {
		p.processEvent(ctx, row)
	}
}

// processEvent delivers a single outbox event to all its targets
func (p *OutboxProcessor) processEvent(ctx context.Context, row *shared.OutboxEvent) {
	event, err := p.serializer.Deserialize(row.EventType, row.Payload)
	if err != nil {
		p.logger.Error("failed to deserialize event",
			zap.String("event_id", row.EventID.String()),
			zap.String("event_type", row.EventType),
			zap.Error(err),
		)
		p.fail(ctx, row, err)
		return
	}

	var errs []string

	// in-process handlers first
	if err := p.bus.Publish(ctx, event); err != nil {
		errs = append(errs, "bus: "+err.Error())
	}

	// then per-tenant subscriptions
	subs, err := p.subs.FindActiveByEventType(ctx, row.TenantID, row.EventType)
	if err != nil {
		errs = append(errs, "subscriptions: "+err.Error())
	} else {
		for _, sub := range subs {
			if err := p.deliverToSubscription(ctx, row, sub, event); err != nil {
				errs = append(errs, string(sub.Delivery)+": "+err.Error())
			}
		}
	}

	if len(errs) > 0 {
		p.fail(ctx, row, &deliveryError{msg: strings.Join(errs, "; ")})
		return
	}

	row.MarkDelivered()
	if err := p.repo.Update(ctx, row); err != nil {
		p.logger.Error("failed to mark event as delivered",
			zap.String("event_id", row.EventID.String()),
			zap.Error(err),
		)
	} else {
		p.logger.Debug("event delivered",
			zap.String("event_id", row.EventID.String()),
			zap.String("event_type", row.EventType),
		)
	}
}

// deliverToSubscription routes one delivery and records the attempt
func (p *OutboxProcessor) deliverToSubscription(ctx context.Context, row *shared.OutboxEvent, sub *shared.Subscription, event shared.DomainEvent) error {
	start := time.Now()
	code, err := p.router.Deliver(ctx, sub, event, row.Payload)

	attempt := &shared.DeliveryAttempt{
		ID:             uuid.New(),
		OutboxEventID:  row.ID,
		SubscriptionID: sub.ID,
		Success:        err == nil,
		ResponseCode:   code,
		DurationMs:     time.Since(start).Milliseconds(),
		CreatedAt:      time.Now(),
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	if saveErr := p.attempts.Save(ctx, attempt); saveErr != nil {
		p.logger.Warn("failed to record delivery attempt",
			zap.String("event_id", row.EventID.String()),
			zap.Error(saveErr),
		)
	}

	return err
}

// fail records a failed attempt and persists the new status
func (p *OutboxProcessor) fail(ctx context.Context, row *shared.OutboxEvent, err error) {
	row.MarkFailed(err.Error())
	if row.IsDeadLetter() {
		p.logger.Warn("event moved to dead letter queue",
			zap.String("event_id", row.EventID.String()),
			zap.String("event_type", row.EventType),
			zap.String("aggregate_type", row.AggregateType),
			zap.String("aggregate_id", row.AggregateID.String()),
			zap.Int("attempts", row.Attempts),
			zap.String("last_error", row.LastError),
		)
	}
	if updateErr := p.repo.Update(ctx, row); updateErr != nil {
		p.logger.Error("failed to update outbox event", zap.Error(updateErr))
	}
}

// cleanupLoop periodically removes old delivered events
func (p *OutboxProcessor) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanup(ctx)
		}
	}
}

// cleanup removes delivered events past the retention window
func (p *OutboxProcessor) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupRetention)
	deleted, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to cleanup old outbox events", zap.Error(err))
		return
	}

	if deleted > 0 {
		p.logger.Info("cleaned up delivered outbox events",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}

type deliveryError struct {
	msg string
}

func (e *deliveryError) Error() string {
	return e.msg
}
