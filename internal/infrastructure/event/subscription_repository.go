package event

import (
	"context"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSubscriptionRepository implements SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GORM-based subscription repository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// Save inserts or updates a subscription
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *shared.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// FindActiveByEventType returns active subscriptions for a tenant and event type
func (r *GormSubscriptionRepository) FindActiveByEventType(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*shared.Subscription, error) {
	var subs []*shared.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND event_type = ? AND active = ?", tenantID, eventType, true).
		Find(&subs).Error
	return subs, err
}

// FindByTenant returns all subscriptions for a tenant
func (r *GormSubscriptionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*shared.Subscription, error) {
	var subs []*shared.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&subs).Error
	return subs, err
}

// Deactivate marks a subscription inactive
func (r *GormSubscriptionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&shared.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormSubscriptionRepository implements SubscriptionRepository
var _ shared.SubscriptionRepository = (*GormSubscriptionRepository)(nil)

// GormDeliveryAttemptRepository implements DeliveryAttemptRepository using GORM
type GormDeliveryAttemptRepository struct {
	db *gorm.DB
}

// NewGormDeliveryAttemptRepository creates a new GORM-based delivery attempt repository
func NewGormDeliveryAttemptRepository(db *gorm.DB) *GormDeliveryAttemptRepository {
	return &GormDeliveryAttemptRepository{db: db}
}

// Save appends a delivery attempt record
func (r *GormDeliveryAttemptRepository) Save(ctx context.Context, attempt *shared.DeliveryAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// FindByOutboxEvent returns all attempts for an outbox event, oldest first
func (r *GormDeliveryAttemptRepository) FindByOutboxEvent(ctx context.Context, outboxEventID uuid.UUID) ([]*shared.DeliveryAttempt, error) {
	var attempts []*shared.DeliveryAttempt
	err := r.db.WithContext(ctx).
		Where("outbox_event_id = ?", outboxEventID).
		Order("created_at ASC").
		Find(&attempts).Error
	return attempts, err
}

// Ensure GormDeliveryAttemptRepository implements DeliveryAttemptRepository
var _ shared.DeliveryAttemptRepository = (*GormDeliveryAttemptRepository)(nil)
