// Package audit records delivery failures in the bridge's audit log.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
	"github.com/okian/lmsbridge/pkg/metrics"
)

const messagePrefix = "integration delivery error: "

// Log is the append-only failure store.
type Log interface {
	AppendFailure(ctx context.Context, rec model.FailureRecord) (int64, error)
}

// Reporter appends failure records. Report never fails or panics.
type Reporter struct {
	log    Log
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Reporter.
type Option func(*Reporter)

// WithLogger sets a custom logger for the reporter.
func WithLogger(l logger.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source stamped on records.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReporter creates a Reporter writing to log.
func NewReporter(log Log, opts ...Option) *Reporter {
	r := &Reporter{
		log:    log,
		now:    time.Now,
		logger: logger.Get().Named("audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report writes one system-actor failure record with message.
func (r *Reporter) Report(ctx context.Context, message string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(ctx, "failure report panicked", logger.Any("panic", fmt.Sprint(rec)))
		}
	}()

	r.logger.Error(ctx, messagePrefix+message)
	metrics.RecordFailureReport()

	if r.log == nil {
		return
	}
	_, err := r.log.AppendFailure(ctx, model.FailureRecord{
		Message:      message,
		OccurredAt:   r.now(),
		ContextActor: model.SystemActor,
	})
	if err != nil {
		r.logger.Error(ctx, "failure record not persisted", logger.String("message", message), logger.Error(err))
	}
}
