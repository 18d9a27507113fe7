package port

import (
	"context"
	"time"
)

// CacheRepository is the distributed cache tier. Callers treat every error as a miss.
type CacheRepository interface {
	// Get returns nil, nil when the key does not exist
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
