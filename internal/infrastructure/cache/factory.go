package cache

import (
	"fmt"

	"github.com/docuflow/backend/internal/domain/shared"
)

// StoreType identifies an idempotency store backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewIdempotencyStore creates an idempotency store for the configured backend
func NewIdempotencyStore(storeType StoreType, redisCfg RedisConfig) (shared.IdempotencyStore, error) {
	switch storeType {
	case StoreTypeMemory, "":
		return NewInMemoryIdempotencyStore(), nil
	case StoreTypeRedis:
		return NewRedisIdempotencyStore(redisCfg)
	default:
		return nil, fmt.Errorf("unknown idempotency store type: %s", storeType)
	}
}
