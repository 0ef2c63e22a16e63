package queue

import (
	"time"

	"github.com/okian/lmsbridge/pkg/logger"
)

// Option applies a configuration option to the DurableQueue.
type Option func(*DurableQueue)

// WithLease sets how long a claimed task stays in flight before another
// consumer may reclaim it.
func WithLease(lease time.Duration) Option {
	return func(q *DurableQueue) {
		if lease > 0 {
			q.lease = lease
		}
	}
}

// WithPollInterval sets how often idle consumers look for due tasks.
func WithPollInterval(interval time.Duration) Option {
	return func(q *DurableQueue) {
		if interval > 0 {
			q.pollInterval = interval
		}
	}
}

// WithLogger sets a custom logger for the queue.
func WithLogger(l logger.Logger) Option {
	return func(q *DurableQueue) {
		if l != nil {
			q.logger = l
		}
	}
}
