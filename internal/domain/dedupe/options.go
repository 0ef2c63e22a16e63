package dedupe

import (
	"time"

	"github.com/okian/lmsbridge/pkg/logger"
)

// Option applies a configuration option to the in-memory deduper.
type Option func(*inMemoryDeduper)

// WithMaxSize sets the maximum number of keys to keep in memory.
// If maxSize > 0 the oldest key is evicted when full; otherwise the
// deduper is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// RedisOption applies a configuration option to the RedisDeduper.
type RedisOption func(*RedisDeduper)

// WithTTL sets how long a key is remembered.
func WithTTL(ttl time.Duration) RedisOption {
	return func(d *RedisDeduper) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces the keys written to redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(d *RedisDeduper) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// WithLogger sets a custom logger for the RedisDeduper.
func WithLogger(l logger.Logger) RedisOption {
	return func(d *RedisDeduper) {
		if l != nil {
			d.logger = l
		}
	}
}
