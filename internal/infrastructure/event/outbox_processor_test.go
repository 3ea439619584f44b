package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOutboxRepo keeps outbox rows in memory for processor tests
type fakeOutboxRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*shared.OutboxEvent
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{rows: make(map[uuid.UUID]*shared.OutboxEvent)}
}

func (r *fakeOutboxRepo) Save(_ context.Context, events ...*shared.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.rows[e.ID] = e
	}
	return nil
}

func (r *fakeOutboxRepo) FindPending(_ context.Context, limit int) ([]*shared.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*shared.OutboxEvent
	for _, e := range r.rows {
		if e.Status == shared.OutboxStatusPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) FindRetryable(_ context.Context, before time.Time, limit int) ([]*shared.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*shared.OutboxEvent
	for _, e := range r.rows {
		if e.Status == shared.OutboxStatusFailed && e.NextAttemptAt != nil && !e.NextAttemptAt.After(before) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) FindDeadLetter(_ context.Context, _, _ int) ([]*shared.OutboxEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*shared.OutboxEvent
	for _, e := range r.rows {
		if e.Status == shared.OutboxStatusDeadLetter {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeOutboxRepo) FindByID(_ context.Context, id uuid.UUID) (*shared.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return e, nil
}

func (r *fakeOutboxRepo) MarkProcessing(_ context.Context, ids []uuid.UUID) ([]*shared.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*shared.OutboxEvent
	for _, id := range ids {
		if e, ok := r.rows[id]; ok {
			if err := e.MarkProcessing(); err == nil {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) RequeueStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var requeued int64
	for _, e := range r.rows {
		if e.Status == shared.OutboxStatusProcessing && e.UpdatedAt.Before(before) {
			e.Status = shared.OutboxStatusPending
			e.UpdatedAt = time.Now()
			requeued++
		}
	}
	return requeued, nil
}

func (r *fakeOutboxRepo) Update(_ context.Context, event *shared.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[event.ID] = event
	return nil
}

func (r *fakeOutboxRepo) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, e := range r.rows {
		if e.Status == shared.OutboxStatusDelivered && e.DeliveredAt != nil && e.DeliveredAt.Before(before) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeOutboxRepo) CountByStatus(_ context.Context) (map[shared.OutboxStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[shared.OutboxStatus]int64)
	for _, e := range r.rows {
		counts[e.Status]++
	}
	return counts, nil
}

type fakeSubRepo struct {
	subs []*shared.Subscription
}

func (r *fakeSubRepo) Save(_ context.Context, sub *shared.Subscription) error {
	r.subs = append(r.subs, sub)
	return nil
}

func (r *fakeSubRepo) FindActiveByEventType(_ context.Context, tenantID uuid.UUID, eventType string) ([]*shared.Subscription, error) {
	var out []*shared.Subscription
	for _, s := range r.subs {
		if s.TenantID == tenantID && s.EventType == eventType && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) FindByTenant(_ context.Context, tenantID uuid.UUID) ([]*shared.Subscription, error) {
	return r.subs, nil
}

func (r *fakeSubRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	for _, s := range r.subs {
		if s.ID == id {
			s.Active = false
			return nil
		}
	}
	return shared.ErrNotFound
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []*shared.DeliveryAttempt
}

func (r *fakeAttemptRepo) Save(_ context.Context, attempt *shared.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *fakeAttemptRepo) FindByOutboxEvent(_ context.Context, outboxEventID uuid.UUID) ([]*shared.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*shared.DeliveryAttempt
	for _, a := range r.attempts {
		if a.OutboxEventID == outboxEventID {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubDeliverer struct {
	calls int
	err   error
}

func (d *stubDeliverer) Deliver(_ context.Context, _ *shared.Subscription, _ shared.DomainEvent, _ []byte) (int, error) {
	d.calls++
	if d.err != nil {
		return 500, d.err
	}
	return 200, nil
}

type processorFixture struct {
	repo      *fakeOutboxRepo
	subs      *fakeSubRepo
	attempts  *fakeAttemptRepo
	bus       *InMemoryEventBus
	webhook   *stubDeliverer
	processor *OutboxProcessor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	serializer := NewEventSerializer()
	serializer.Register("TestEvent", &testEvent{})

	f := &processorFixture{
		repo:     newFakeOutboxRepo(),
		subs:     &fakeSubRepo{},
		attempts: &fakeAttemptRepo{},
		bus:      NewInMemoryEventBus(zap.NewNop()),
		webhook:  &stubDeliverer{},
	}
	router := NewDeliveryRouter(f.webhook, NewInternalDeliverer(f.bus), &stubDeliverer{})
	f.processor = NewOutboxProcessor(
		f.repo, f.subs, f.attempts, f.bus, router, serializer,
		DefaultOutboxProcessorConfig(), zap.NewNop(),
	)
	return f
}

func (f *processorFixture) enqueue(t *testing.T, tenantID uuid.UUID) *shared.OutboxEvent {
	t.Helper()
	serializer := NewEventSerializer()
	event := newTestEvent("TestEvent", tenantID)
	payload, err := serializer.Serialize(event)
	require.NoError(t, err)
	row := shared.NewOutboxEvent(tenantID, event, payload)
	require.NoError(t, f.repo.Save(context.Background(), row))
	return row
}

func TestOutboxProcessor_DeliversPendingEvent(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	handler := &recordingHandler{types: []string{"TestEvent"}}
	f.bus.Subscribe(handler)
	row := f.enqueue(t, tenantID)

	f.processor.processBatch(context.Background())

	assert.Len(t, handler.received, 1)
	stored, err := f.repo.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)
}

func TestOutboxProcessor_DeliversToWebhookSubscription(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	sub, err := shared.NewSubscription(tenantID, "TestEvent", shared.DeliveryTypeWebhook, "https://hooks.acme.vn/events")
	require.NoError(t, err)
	require.NoError(t, f.subs.Save(context.Background(), sub))
	row := f.enqueue(t, tenantID)

	f.processor.processBatch(context.Background())

	assert.Equal(t, 1, f.webhook.calls)
	attempts, err := f.attempts.FindByOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, 200, attempts[0].ResponseCode)
}

func TestOutboxProcessor_FailedDeliveryRetriesWithBackoff(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	f.webhook.err = errors.New("connection refused")
	sub, err := shared.NewSubscription(tenantID, "TestEvent", shared.DeliveryTypeWebhook, "https://hooks.acme.vn/events")
	require.NoError(t, err)
	require.NoError(t, f.subs.Save(context.Background(), sub))
	row := f.enqueue(t, tenantID)

	f.processor.processBatch(context.Background())

	stored, err := f.repo.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextAttemptAt)
	assert.True(t, stored.NextAttemptAt.After(time.Now()))
	assert.Contains(t, stored.LastError, "connection refused")

	attempts, err := f.attempts.FindByOutboxEvent(context.Background(), row.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
}

func TestOutboxProcessor_ExhaustedRetriesDeadLetter(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	f.webhook.err = errors.New("permanent failure")
	sub, err := shared.NewSubscription(tenantID, "TestEvent", shared.DeliveryTypeWebhook, "https://hooks.acme.vn/events")
	require.NoError(t, err)
	require.NoError(t, f.subs.Save(context.Background(), sub))
	row := f.enqueue(t, tenantID)
	row.Attempts = row.MaxAttempts - 1
	row.Status = shared.OutboxStatusFailed
	past := time.Now().Add(-time.Minute)
	row.NextAttemptAt = &past
	require.NoError(t, f.repo.Update(context.Background(), row))

	f.processor.processBatch(context.Background())

	stored, err := f.repo.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusDeadLetter, stored.Status)
	assert.Nil(t, stored.NextAttemptAt)
}

func TestOutboxProcessor_RequeuesStalledClaim(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	handler := &recordingHandler{types: []string{"TestEvent"}}
	f.bus.Subscribe(handler)

	// A worker claimed this row and died before recording an outcome.
	row := f.enqueue(t, tenantID)
	row.Status = shared.OutboxStatusProcessing
	row.UpdatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, f.repo.Update(context.Background(), row))

	f.processor.processBatch(context.Background())

	assert.Len(t, handler.received, 1)
	stored, err := f.repo.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusDelivered, stored.Status)
}

func TestOutboxProcessor_FreshClaimNotRequeued(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	handler := &recordingHandler{types: []string{"TestEvent"}}
	f.bus.Subscribe(handler)

	// Another worker holds this claim and is still within its timeout.
	row := f.enqueue(t, tenantID)
	row.Status = shared.OutboxStatusProcessing
	row.UpdatedAt = time.Now()
	require.NoError(t, f.repo.Update(context.Background(), row))

	f.processor.processBatch(context.Background())

	assert.Empty(t, handler.received)
	stored, err := f.repo.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusProcessing, stored.Status)
}

func TestOutboxProcessor_UnknownEventTypeFails(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	event := newTestEvent("UnregisteredEvent", tenantID)
	row := shared.NewOutboxEvent(tenantID, event, []byte(`{}`))
	require.NoError(t, f.repo.Save(context.Background(), row))

	f.processor.processBatch(context.Background())

	stored, err := f.repo.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "unknown event type")
}

func TestOutboxProcessor_Cleanup(t *testing.T) {
	f := newProcessorFixture(t)
	tenantID := uuid.New()
	row := f.enqueue(t, tenantID)
	row.MarkDelivered()
	old := time.Now().Add(-30 * 24 * time.Hour)
	row.DeliveredAt = &old
	require.NoError(t, f.repo.Update(context.Background(), row))

	f.processor.cleanup(context.Background())

	_, err := f.repo.FindByID(context.Background(), row.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
