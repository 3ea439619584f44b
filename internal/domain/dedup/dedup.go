package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Checksum returns the hex-encoded sha256 of raw document bytes
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RequestHash returns the hex-encoded sha256 of a request body in canonical
// JSON form (object keys sorted), so logically equal requests hash equal.
func RequestHash(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	// re-marshal through an untyped value to sort object keys
	var canonical interface{}
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return "", err
	}
	normalized, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	return Checksum(normalized), nil
}

// KeyStatus is the processing status of an idempotency key
type KeyStatus string

const (
	KeyStatusProcessing KeyStatus = "PROCESSING"
	KeyStatusCompleted  KeyStatus = "COMPLETED"
	KeyStatusFailed     KeyStatus = "FAILED"
)

// FailedCooldown is how long a failed key blocks retries of the same request
const FailedCooldown = 5 * time.Minute

// IdempotencyKey guards a logical request: at most one concurrent
// processing per key hash, with the stored result replayed to duplicates.
type IdempotencyKey struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	KeyHash   string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	Status    KeyStatus `gorm:"type:varchar(20);not null;default:'PROCESSING'"`
	Result    []byte    `gorm:"type:jsonb"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}

// NewIdempotencyKey creates a key in PROCESSING
func NewIdempotencyKey(tenantID uuid.UUID, keyHash string, ttl time.Duration) (*IdempotencyKey, error) {
	if keyHash == "" {
		return nil, shared.NewDomainError("INVALID_KEY", "Idempotency key hash cannot be empty")
	}
	if ttl <= 0 {
		return nil, shared.NewDomainError("INVALID_TTL", "Idempotency key TTL must be positive")
	}
	now := time.Now()
	return &IdempotencyKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		KeyHash:   keyHash,
		Status:    KeyStatusProcessing,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsExpired reports whether the processing claim has lapsed
func (k *IdempotencyKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// Blocks reports whether this key blocks a new attempt at the given time:
// an unexpired PROCESSING claim always blocks, a FAILED key blocks until
// its cool-down elapses, a COMPLETED key never blocks (its result is
// replayed instead).
func (k *IdempotencyKey) Blocks(now time.Time) bool {
	switch k.Status {
	case KeyStatusProcessing:
		return !k.IsExpired(now)
	case KeyStatusFailed:
		return now.Before(k.UpdatedAt.Add(FailedCooldown))
	default:
		return false
	}
}

// Complete records the result; the only legal transition out of PROCESSING
func (k *IdempotencyKey) Complete(result []byte) error {
	if k.Status != KeyStatusProcessing {
		return shared.NewDomainError("INVALID_STATE", "Only a processing key can be completed")
	}
	k.Status = KeyStatusCompleted
	k.Result = result
	k.UpdatedAt = time.Now()
	return nil
}

// MarkFailed releases the claim after a failed attempt; the key becomes
// retryable once the cool-down elapses.
func (k *IdempotencyKey) MarkFailed() error {
	if k.Status != KeyStatusProcessing {
		return shared.NewDomainError("INVALID_STATE", "Only a processing key can be marked failed")
	}
	k.Status = KeyStatusFailed
	k.UpdatedAt = time.Now()
	return nil
}

// Reset re-arms a lapsed key for a fresh attempt
func (k *IdempotencyKey) Reset(ttl time.Duration) {
	now := time.Now()
	k.Status = KeyStatusProcessing
	k.Result = nil
	k.ExpiresAt = now.Add(ttl)
	k.UpdatedAt = now
}

// Repository persists idempotency keys
type Repository interface {
	// Create inserts a new key. Returns shared.ErrConflict when a key with
	// the same hash already exists (unique index violation).
	Create(ctx context.Context, key *IdempotencyKey) error
	// FindByKeyHash returns the key, or nil, nil when absent
	FindByKeyHash(ctx context.Context, keyHash string) (*IdempotencyKey, error)
	// Update persists key mutations guarded by the optimistic expiry check
	Update(ctx context.Context, key *IdempotencyKey) error
}

// Service implements the acquire/complete contract over the repository
type Service struct {
	repo Repository
}

// NewService creates a dedup service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Acquire claims the key for processing. Exactly one concurrent caller wins;
// the rest receive shared.ErrConflict. A completed key is returned as-is so
// the caller can replay its result.
func (s *Service) Acquire(ctx context.Context, tenantID uuid.UUID, keyHash string, ttl time.Duration) (*IdempotencyKey, error) {
	key, err := NewIdempotencyKey(tenantID, keyHash, ttl)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, key); err == nil {
		return key, nil
	} else if err != shared.ErrConflict {
		return nil, err
	}

	existing, err := s.repo.FindByKeyHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// lost the race and the winner already cleaned up; treat as conflict
		return nil, shared.ErrConflict
	}

	now := time.Now()
	if existing.Status == KeyStatusCompleted {
		return existing, nil
	}
	if existing.Blocks(now) {
		return nil, shared.ErrConflict
	}

	// lapsed processing claim or cooled-down failure: take over
	existing.Reset(ttl)
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Complete stores the result against the key
func (s *Service) Complete(ctx context.Context, keyHash string, result []byte) error {
	key, err := s.repo.FindByKeyHash(ctx, keyHash)
	if err != nil {
		return err
	}
	if key == nil {
		return shared.ErrNotFound
	}
	if err := key.Complete(result); err != nil {
		return err
	}
	return s.repo.Update(ctx, key)
}

// Fail releases the claim after a failed processing attempt
func (s *Service) Fail(ctx context.Context, keyHash string) error {
	key, err := s.repo.FindByKeyHash(ctx, keyHash)
	if err != nil {
		return err
	}
	if key == nil {
		return shared.ErrNotFound
	}
	if err := key.MarkFailed(); err != nil {
		return err
	}
	return s.repo.Update(ctx, key)
}
