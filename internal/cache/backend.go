package cache

import (
	"context"
	"log/slog"
	"time"
)

// Backend stores opaque values with a TTL
type Backend interface {
	// Get returns (value, found, error); an expired value is not found
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error
	Close() error
}

// Backend kinds reported by Open
const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

const (
	keyPrefix         = "nwc:"
	memoryMaxEntries  = 10000
	memorySweepPeriod = 2 * time.Minute
	redisConnectLimit = 5 * time.Second
)

// Open returns a Redis backend when redisURL is set, otherwise memory.
// An unreachable Redis falls back to memory so the server still starts.
func Open(redisURL string) (Backend, string) {
	if redisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectLimit)
		defer cancel()

		rc, err := NewRedisCache(ctx, redisURL, keyPrefix)
		if err == nil {
			slog.Info("wallet info cache: redis")
			return rc, KindRedis
		}
		slog.Warn("redis unavailable, wallet info cache falls back to memory", "error", err)
	}
	slog.Info("wallet info cache: memory", "max_entries", memoryMaxEntries)
	return NewMemoryCache(memoryMaxEntries, memorySweepPeriod), KindMemory
}
