// Package worker runs the dispatcher workers that drain the delivery queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
	"github.com/okian/lmsbridge/pkg/metrics"
)

const (
	defaultMaxAttempts    = 10
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Queue defines how workers receive tasks. Dequeue blocks until a task is
// claimed for the caller or ctx ends.
type Queue interface {
	Dequeue(ctx context.Context) (model.Task, error)
}

// Dispatcher delivers one payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, p model.Payload) error
}

// Tasks settles claimed tasks.
type Tasks interface {
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, lastErr string, next time.Time) error
	Fail(ctx context.Context, id uuid.UUID, lastErr string) error
}

// Reporter records delivery failures.
type Reporter interface {
	Report(ctx context.Context, message string)
}

// Worker processes tasks until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current task.
	Shutdown(ctx context.Context) error
}

// DeliveryWorker dispatches claimed tasks and settles them. Tasks may be
// delivered more than once: a crash between a successful POST and Complete
// leaves the task to be reclaimed when its lease expires.
type DeliveryWorker struct {
	queue      Queue
	dispatcher Dispatcher
	tasks      Tasks
	reporter   Reporter
	name       string

	maxAttempts int
	backoff     Backoff
	now         func() time.Time

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewDeliveryWorker creates a worker with configuration options.
func NewDeliveryWorker(q Queue, d Dispatcher, tasks Tasks, r Reporter, opts ...Option) *DeliveryWorker {
	w := &DeliveryWorker{
		queue:       q,
		dispatcher:  d,
		tasks:       tasks,
		reporter:    r,
		name:        "worker",
		maxAttempts: defaultMaxAttempts,
		backoff:     DefaultBackoff(),
		now:         time.Now,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. A task is dequeued only once the previous
// one has been settled.
func (w *DeliveryWorker) Run(ctx context.Context) {
	defer close(w.done)

	dequeueCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-dequeueCtx.Done():
		}
	}()

	for {
		task, err := w.queue.Dequeue(dequeueCtx)
		if err != nil {
			if dequeueCtx.Err() == nil {
				w.logger.Debug(ctx, "dequeue stopped", logger.Error(err))
			}
			return
		}
		w.process(ctx, task)

		select {
		case <-w.shutdown:
			return
		default:
		}
	}
}

func (w *DeliveryWorker) signal() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// Shutdown gracefully stops the worker.
func (w *DeliveryWorker) Shutdown(ctx context.Context) error {
	w.signal()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process delivers one task and settles it. It never panics.
func (w *DeliveryWorker) process(ctx context.Context, task model.Task) {
	log := w.logger.With(logger.String("task_id", task.ID.String()), logger.Int("attempt", task.Attempts))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error(ctx, "task processing panicked", logger.Any("panic", fmt.Sprint(rec)))
		}
	}()

	err := w.dispatcher.Dispatch(ctx, task.Payload)
	if err == nil {
		if err := w.tasks.Complete(ctx, task.ID); err != nil {
			log.Error(ctx, "delivered task not completed", logger.Error(err))
			return
		}
		log.Debug(ctx, "task delivered", logger.String("action", task.Payload.Action()))
		return
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Interrupted by shutdown; the lease expires and the task is retried.
		return
	}

	msg := err.Error()
	w.reporter.Report(ctx, msg)

	if task.Attempts >= w.maxAttempts {
		metrics.RecordDelivery("given_up")
		if err := w.tasks.Fail(ctx, task.ID, msg); err != nil {
			log.Error(ctx, "task not marked failed", logger.Error(err))
		}
		log.Warn(ctx, "giving up on task", logger.String("last_error", msg))
		return
	}

	next := w.now().Add(w.backoff.Delay(task.Attempts))
	if err := w.tasks.Retry(ctx, task.ID, msg, next); err != nil {
		log.Error(ctx, "task not rescheduled", logger.Error(err))
		return
	}
	log.Info(ctx, "task rescheduled", logger.String("next_run_at", next.UTC().Format(time.RFC3339)))
}

// Pool manages multiple workers.
type Pool struct {
	workers []*DeliveryWorker
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing the same
// collaborators. opts apply to every worker.
func NewPool(workerCount int, q Queue, d Dispatcher, tasks Tasks, r Reporter, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*DeliveryWorker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		workerOpts := append(append([]Option(nil), opts...), WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewDeliveryWorker(q, d, tasks, r, workerOpts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop stops all workers, waiting briefly for each current task.
func (p *Pool) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancel()
	_ = p.Shutdown(ctx)
}

// Shutdown stops all workers or gives up when ctx ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for _, w := range p.workers {
		w.signal()
	}

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}
