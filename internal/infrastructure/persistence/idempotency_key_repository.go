package persistence

import (
	"context"
	"errors"

	"github.com/docuflow/backend/internal/domain/dedup"
	"github.com/docuflow/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormIdempotencyKeyRepository implements dedup.Repository using GORM
type GormIdempotencyKeyRepository struct {
	db *gorm.DB
}

// NewGormIdempotencyKeyRepository creates a new GormIdempotencyKeyRepository
func NewGormIdempotencyKeyRepository(db *gorm.DB) *GormIdempotencyKeyRepository {
	return &GormIdempotencyKeyRepository{db: db}
}

// Create inserts a new key. The unique index on key_hash arbitrates
// concurrent requests: losers receive shared.ErrConflict.
func (r *GormIdempotencyKeyRepository) Create(ctx context.Context, key *dedup.IdempotencyKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrConflict
		}
		return err
	}
	return nil
}

// FindByKeyHash returns the key, or nil, nil when absent
func (r *GormIdempotencyKeyRepository) FindByKeyHash(ctx context.Context, keyHash string) (*dedup.IdempotencyKey, error) {
	var key dedup.IdempotencyKey
	if err := r.db.WithContext(ctx).
		First(&key, "key_hash = ?", keyHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// Update persists key mutations
func (r *GormIdempotencyKeyRepository) Update(ctx context.Context, key *dedup.IdempotencyKey) error {
	return r.db.WithContext(ctx).Save(key).Error
}

// Ensure GormIdempotencyKeyRepository implements dedup.Repository
var _ dedup.Repository = (*GormIdempotencyKeyRepository)(nil)
