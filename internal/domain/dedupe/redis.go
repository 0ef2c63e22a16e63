package dedupe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/lmsbridge/pkg/logger"
)

const (
	defaultTTL       = 24 * time.Hour
	defaultKeyPrefix = "lmsbridge:seen:"
)

// RedisDeduper shares seen keys between bridge processes using SET NX.
// Redis failures fail open: the event is treated as new, which at worst
// produces a duplicate delivery.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	size   atomic.Int64
	logger logger.Logger
}

// NewRedisDeduper creates a deduper backed by client.
func NewRedisDeduper(client redis.UniversalClient, opts ...RedisOption) *RedisDeduper {
	d := &RedisDeduper{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultKeyPrefix,
		logger: logger.Get().Named("dedupe"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *RedisDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	ok, err := d.client.SetNX(ctx, d.prefix+id, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		d.logger.Warn(ctx, "redis dedupe unavailable, treating event as new", logger.Error(err))
		return false
	}
	if ok {
		d.size.Add(1)
	}
	return !ok
}

func (d *RedisDeduper) Unrecord(ctx context.Context, id string) {
	n, err := d.client.Del(ctx, d.prefix+id).Result()
	if err != nil {
		d.logger.Warn(ctx, "redis dedupe unrecord failed", logger.Error(err))
		return
	}
	if n > 0 {
		d.size.Add(-1)
	}
}

// Size returns the number of keys this process recorded and still holds.
// Keys recorded by other processes or expired by TTL are not counted.
func (d *RedisDeduper) Size() int64 {
	return d.size.Load()
}
