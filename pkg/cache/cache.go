package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidKey is returned for empty keys
var ErrInvalidKey = errors.New("cache: key must not be empty")

// Store is a byte-valued key/value store with per-entry expiry.
//
// Implementations must be safe for concurrent use. A miss is reported as
// (nil, false, nil); errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
}

// Counter counts events per key in fixed windows. The window starts at the
// first Incr for a key and the count resets when it elapses.
type Counter interface {
	// Incr adds one to key and returns the new count and the time left in the window
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Backend names accepted by Config.Backend
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds cache configuration
type Config struct {
	Backend    string
	Prefix     string
	MaxEntries int
	// MaxTTL bounds how long any memory entry can live regardless of the TTL passed to Set
	MaxTTL time.Duration
}

// DefaultConfig returns default cache settings
func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		Prefix:     "rlsbridge",
		MaxEntries: 10000,
		MaxTTL:     time.Hour,
	}
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
