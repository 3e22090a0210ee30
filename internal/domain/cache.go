package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require familyID for strict per-family isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, familyID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, familyID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, familyID string, key string) error

	// GetAttempt retrieves a cached attempt snapshot.
	GetAttempt(ctx context.Context, familyID string, attemptID string) (*Attempt, error)

	// SetAttempt caches an attempt snapshot for history hydration.
	SetAttempt(ctx context.Context, familyID string, attemptID string, attempt *Attempt, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for the per-user re-evaluation throttle window.
	IncrementCounter(ctx context.Context, familyID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
