package shared

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvent(tenantID uuid.UUID) DomainEvent {
	e := NewBaseDomainEvent("document.uploaded", "Job", uuid.New(), tenantID)
	return &e
}

func TestNewOutboxEvent(t *testing.T) {
	tenantID := uuid.New()
	event := newTestEvent(tenantID)

	entry := NewOutboxEvent(tenantID, event, []byte(`{}`))

	assert.Equal(t, OutboxStatusPending, entry.Status)
	assert.Equal(t, 0, entry.Attempts)
	assert.Equal(t, DefaultMaxAttempts, entry.MaxAttempts)
	assert.Equal(t, event.EventID(), entry.EventID)
	assert.Equal(t, "document.uploaded", entry.EventType)
}

func TestOutboxEvent_MarkProcessing(t *testing.T) {
	tenantID := uuid.New()
	entry := NewOutboxEvent(tenantID, newTestEvent(tenantID), []byte(`{}`))

	require.NoError(t, entry.MarkProcessing())
	assert.Equal(t, OutboxStatusProcessing, entry.Status)

	// A delivered event never regresses to processing
	entry.MarkDelivered()
	assert.Error(t, entry.MarkProcessing())
	assert.Equal(t, OutboxStatusDelivered, entry.Status)
}

func TestOutboxEvent_MarkFailed_Backoff(t *testing.T) {
	tenantID := uuid.New()
	entry := NewOutboxEvent(tenantID, newTestEvent(tenantID), []byte(`{}`))

	entry.MarkFailed("connection refused")

	assert.Equal(t, OutboxStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "connection refused", entry.LastError)
	require.NotNil(t, entry.NextAttemptAt)
	assert.WithinDuration(t, time.Now().Add(DefaultBaseBackoff), *entry.NextAttemptAt, time.Second)
	assert.True(t, entry.CanRetry())
}

func TestOutboxEvent_MarkFailed_DeadLetter(t *testing.T) {
	tenantID := uuid.New()
	entry := NewOutboxEvent(tenantID, newTestEvent(tenantID), []byte(`{}`))

	for i := 0; i < entry.MaxAttempts; i++ {
		entry.MarkFailed("timeout")
	}

	assert.Equal(t, OutboxStatusDeadLetter, entry.Status)
	assert.Equal(t, entry.MaxAttempts, entry.Attempts)
	assert.Nil(t, entry.NextAttemptAt)
	assert.True(t, entry.IsDeadLetter())
	assert.False(t, entry.CanRetry())
}

func TestOutboxEvent_ResetForRetry(t *testing.T) {
	tenantID := uuid.New()
	entry := NewOutboxEvent(tenantID, newTestEvent(tenantID), []byte(`{}`))

	// Only dead letter events can be reset
	assert.Error(t, entry.ResetForRetry())

	for i := 0; i < entry.MaxAttempts; i++ {
		entry.MarkFailed("timeout")
	}
	require.NoError(t, entry.ResetForRetry())

	assert.Equal(t, OutboxStatusPending, entry.Status)
	assert.Equal(t, 0, entry.Attempts)
	assert.Empty(t, entry.LastError)
}

func TestNewSubscription(t *testing.T) {
	tenantID := uuid.New()

	sub, err := NewSubscription(tenantID, "ledger.posted", DeliveryTypeWebhook, "https://hooks.example.com/ledger")
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, DeliveryTypeWebhook, sub.Delivery)

	_, err = NewSubscription(tenantID, "", DeliveryTypeWebhook, "https://hooks.example.com")
	assert.Error(t, err)

	_, err = NewSubscription(tenantID, "ledger.posted", DeliveryType("carrier-pigeon"), "")
	assert.Error(t, err)
}
