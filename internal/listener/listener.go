// Package listener maps host domain events to queued payloads. It runs on
// the caller's goroutine, does only the builder's read queries, and never
// returns an error or panics into the caller.
package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/domain/dedupe"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/internal/domain/payload"
	"github.com/okian/lmsbridge/pkg/logger"
	"github.com/okian/lmsbridge/pkg/metrics"
)

// Builder assembles a payload for an event.
type Builder interface {
	Build(ctx context.Context, ev model.DomainEvent) (model.Payload, error)
}

// Enqueuer durably stores a payload for delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, p model.Payload) (uuid.UUID, error)
}

// Reporter records failures in the audit log.
type Reporter interface {
	Report(ctx context.Context, message string)
}

// HandlerFunc handles one domain event.
type HandlerFunc func(ctx context.Context, ev model.DomainEvent)

// Bus is an event source handlers can be registered against.
type Bus interface {
	Subscribe(kind model.Kind, h HandlerFunc)
}

// Outcome is what happened to an event.
type Outcome string

// Event outcomes.
const (
	OutcomeEnqueued  Outcome = "enqueued"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeFailed    Outcome = "failed"
)

// Result reports the outcome of handling one event.
type Result struct {
	Outcome Outcome
	TaskID  uuid.UUID
	Reason  string
}

// Listener turns events into queued tasks.
type Listener struct {
	builder  Builder
	enqueuer Enqueuer
	reporter Reporter
	deduper  dedupe.Deduper
	logger   logger.Logger
}

// Option applies a configuration option to the Listener.
type Option func(*Listener)

// WithDeduper filters redelivered events by idempotency key.
func WithDeduper(d dedupe.Deduper) Option {
	return func(l *Listener) {
		l.deduper = d
	}
}

// WithLogger sets a custom logger for the listener.
func WithLogger(lg logger.Logger) Option {
	return func(l *Listener) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New creates a Listener.
func New(b Builder, e Enqueuer, r Reporter, opts ...Option) *Listener {
	l := &Listener{
		builder:  b,
		enqueuer: e,
		reporter: r,
		logger:   logger.Get().Named("listener"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Kinds lists the event kinds the listener handles.
func (l *Listener) Kinds() []model.Kind {
	return model.Kinds()
}

// Subscribe registers one handler per supported kind on bus.
func (l *Listener) Subscribe(bus Bus) {
	for _, k := range l.Kinds() {
		bus.Subscribe(k, l.OnEvent)
	}
}

// OnEvent handles ev and swallows the result.
func (l *Listener) OnEvent(ctx context.Context, ev model.DomainEvent) {
	_ = l.Handle(ctx, ev)
}

// Handle builds and enqueues ev. Filtering conditions and build errors
// discard the event silently; only enqueue failures are reported.
func (l *Listener) Handle(ctx context.Context, ev model.DomainEvent) (res Result) {
	kind := string(ev.Kind)
	metrics.RecordEventReceived(kind)

	key := ev.IdempotencyKey()
	recorded := false
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error(ctx, "event handling panicked", logger.String("kind", kind), logger.Any("panic", fmt.Sprint(rec)))
			metrics.RecordEventDiscarded(kind, "panic")
			if recorded {
				l.deduper.Unrecord(ctx, key)
			}
			res = Result{Outcome: OutcomeFailed, Reason: "panic"}
		}
	}()

	if l.deduper != nil {
		if l.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordEventDuplicate()
			l.logger.Debug(ctx, "duplicate event skipped", logger.String("kind", kind), logger.String("key", key))
			return Result{Outcome: OutcomeDuplicate}
		}
		recorded = true
	}
	release := func() {
		if recorded {
			l.deduper.Unrecord(ctx, key)
		}
	}

	start := time.Now()
	p, err := l.builder.Build(ctx, ev)
	metrics.RecordBuildLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		release()
		reason := discardReason(err)
		metrics.RecordEventDiscarded(kind, reason)
		l.logger.Debug(ctx, "event discarded",
			logger.String("kind", kind),
			logger.Int64("userid", ev.Subject()),
			logger.String("reason", reason),
			logger.Error(err),
		)
		return Result{Outcome: OutcomeDiscarded, Reason: reason}
	}

	id, err := l.enqueuer.Enqueue(ctx, p)
	if err != nil {
		release()
		metrics.RecordEventDiscarded(kind, "enqueue_error")
		l.reporter.Report(ctx, fmt.Sprintf("enqueue %s for user %d: %v", kind, ev.Subject(), err))
		return Result{Outcome: OutcomeFailed, Reason: "enqueue_error"}
	}

	l.logger.Debug(ctx, "event enqueued", logger.String("kind", kind), logger.String("task_id", id.String()))
	return Result{Outcome: OutcomeEnqueued, TaskID: id}
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, payload.ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, payload.ErrGuestUser):
		return "guest"
	case errors.Is(err, payload.ErrUnknownCourse):
		return "unknown_course"
	case errors.Is(err, payload.ErrUnsupportedKind):
		return "unsupported"
	case errors.Is(err, model.ErrInvalidEvent):
		return "invalid"
	case errors.Is(err, payload.ErrProvider):
		return "provider_error"
	default:
		return "build_error"
	}
}
