package event

import (
	"context"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionService manages event subscriptions
type SubscriptionService struct {
	repo   shared.SubscriptionRepository
	logger *zap.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(
	repo shared.SubscriptionRepository,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		repo:   repo,
		logger: logger,
	}
}

// CreateSubscriptionInput carries the fields for a new subscription
type CreateSubscriptionInput struct {
	EventType string `json:"event_type" binding:"required"`
	Delivery  string `json:"delivery" binding:"required,oneof=webhook internal workflow"`
	Target    string `json:"target" binding:"required"`
}

// SubscriptionDTO represents a subscription data transfer object
type SubscriptionDTO struct {
	ID        uuid.UUID `json:"id"`
	EventType string    `json:"event_type"`
	Delivery  string    `json:"delivery"`
	Target    string    `json:"target"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Create registers a subscription for the tenant
func (s *SubscriptionService) Create(ctx context.Context, tenantID uuid.UUID, input CreateSubscriptionInput) (*SubscriptionDTO, error) {
	sub, err := shared.NewSubscription(tenantID, input.EventType, shared.DeliveryType(input.Delivery), input.Target)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, sub); err != nil {
		s.logger.Error("Failed to save subscription", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to create subscription")
	}

	s.logger.Info("Subscription created",
		zap.String("id", sub.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("event_type", sub.EventType),
		zap.String("delivery", string(sub.Delivery)),
	)

	dto := toSubscriptionDTO(sub)
	return &dto, nil
}

// List returns all subscriptions of the tenant
func (s *SubscriptionService) List(ctx context.Context, tenantID uuid.UUID) ([]SubscriptionDTO, error) {
	subs, err := s.repo.FindByTenant(ctx, tenantID)
	if err != nil {
		s.logger.Error("Failed to list subscriptions", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to list subscriptions")
	}

	dtos := make([]SubscriptionDTO, len(subs))
	for i, sub := range subs {
		dtos[i] = toSubscriptionDTO(sub)
	}
	return dtos, nil
}

// Deactivate stops deliveries for a subscription owned by the tenant
func (s *SubscriptionService) Deactivate(ctx context.Context, tenantID, id uuid.UUID) error {
	subs, err := s.repo.FindByTenant(ctx, tenantID)
	if err != nil {
		s.logger.Error("Failed to load subscriptions", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return shared.NewDomainError("INTERNAL_ERROR", "Failed to deactivate subscription")
	}

	var owned bool
	for _, sub := range subs {
		if sub.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		return shared.NewDomainError("SUBSCRIPTION_NOT_FOUND", "Subscription not found")
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		s.logger.Error("Failed to deactivate subscription", zap.Error(err), zap.String("id", id.String()))
		return shared.NewDomainError("INTERNAL_ERROR", "Failed to deactivate subscription")
	}

	s.logger.Info("Subscription deactivated",
		zap.String("id", id.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	return nil
}

func toSubscriptionDTO(sub *shared.Subscription) SubscriptionDTO {
	return SubscriptionDTO{
		ID:        sub.ID,
		EventType: sub.EventType,
		Delivery:  string(sub.Delivery),
		Target:    sub.Target,
		Active:    sub.Active,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}
}
