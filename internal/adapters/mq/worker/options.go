package worker

import (
	"time"

	"github.com/okian/lmsbridge/pkg/logger"
)

// Option applies a configuration option to the DeliveryWorker.
type Option func(*DeliveryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *DeliveryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *DeliveryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxAttempts sets the give-up threshold.
func WithMaxAttempts(n int) Option {
	return func(w *DeliveryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry schedule.
func WithBackoff(b Backoff) Option {
	return func(w *DeliveryWorker) {
		if b.Base > 0 && b.Max >= b.Base {
			w.backoff = b
		}
	}
}

// WithClock overrides the time source used to schedule retries.
func WithClock(now func() time.Time) Option {
	return func(w *DeliveryWorker) {
		if now != nil {
			w.now = now
		}
	}
}
