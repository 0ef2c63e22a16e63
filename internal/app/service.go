// Package service wires the event bridge: listener, payload builder,
// durable queue, dispatcher workers and failure reporter.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/lmsbridge/internal/adapters/audit"
	"github.com/okian/lmsbridge/internal/adapters/memdir"
	"github.com/okian/lmsbridge/internal/adapters/moodledb"
	"github.com/okian/lmsbridge/internal/adapters/mq/bus"
	eventqueue "github.com/okian/lmsbridge/internal/adapters/mq/queue"
	workerpool "github.com/okian/lmsbridge/internal/adapters/mq/worker"
	"github.com/okian/lmsbridge/internal/adapters/repository"
	"github.com/okian/lmsbridge/internal/adapters/webhook"
	"github.com/okian/lmsbridge/internal/config"
	"github.com/okian/lmsbridge/internal/domain/dedupe"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/internal/domain/payload"
	"github.com/okian/lmsbridge/internal/listener"
	"github.com/okian/lmsbridge/pkg/logger"
	"github.com/okian/lmsbridge/pkg/metrics"
)

// ErrNotStarted is returned by admin operations before Start.
var ErrNotStarted = errors.New("service not started")

// Providers is the full set of host data lookups.
type Providers interface {
	payload.Users
	payload.Courses
	payload.Gradebook
	payload.Activity
	payload.Tracking
	payload.Groups
}

// Service owns every pipeline component and implements the API dependencies.
type Service struct {
	mu sync.RWMutex

	cfg        *config.Config
	providers  Providers
	httpClient *http.Client

	// Core components
	store      *repository.SQLiteStore
	queue      *eventqueue.DurableQueue
	deduper    dedupe.Deduper
	builder    *payload.Builder
	reporter   *audit.Reporter
	dispatcher *webhook.Dispatcher
	workerPool *workerpool.Pool
	listener   *listener.Listener
	subscriber *bus.Subscriber

	// Owned connections
	hostDB *sql.DB
	redis  *redis.Client

	directory string
	started   bool
	cancel    context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the service configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithProviders overrides the host data providers; the host database and
// demo directory are then not used.
func WithProviders(p Providers) Option {
	return func(s *Service) {
		s.providers = p
	}
}

// WithHTTPClient sets the client used for webhook delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service. Without WithConfig, defaults are used.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg = config.New(context.Background())
	}
	return s
}

// Start opens storage and starts the workers and bus subscriber.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting lms bridge...")

	store, err := repository.OpenSQLite(ctx, cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	s.store = store
	s.queue = eventqueue.NewDurableQueue(store,
		eventqueue.WithLease(cfg.Lease()),
		eventqueue.WithPollInterval(cfg.PollInterval()),
	)

	s.deduper = s.newDeduper()

	providers, err := s.openProviders(ctx)
	if err != nil {
		s.closeAll(ctx)
		return err
	}
	s.builder = payload.NewBuilder(providers, providers, providers,
		payload.WithDomain(cfg.Domain()),
		payload.WithLocation(cfg.Location()),
		payload.WithIdempotencyKey(cfg.IncludeIdempotencyKey),
		payload.WithActivity(providers),
		payload.WithTracking(providers),
		payload.WithGroups(providers),
	)

	s.reporter = audit.NewReporter(store)
	dispatcherOpts := []webhook.Option{}
	if s.httpClient != nil {
		dispatcherOpts = append(dispatcherOpts, webhook.WithHTTPClient(s.httpClient))
	}
	s.dispatcher = webhook.NewDispatcher(webhook.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Method:  cfg.RemoteMethod,
		Timeout: cfg.HTTPTimeout(),
	}, dispatcherOpts...)
	if cfg.APIBaseURL == "" || cfg.APIToken == "" {
		s.logger.Warn(ctx, "webhook not configured; deliveries will fail until api_base_url and api_token are set")
	}

	s.listener = listener.New(s.builder, s.queue, s.reporter, listener.WithDeduper(s.deduper))

	// Workers outlive the start context; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.workerPool = workerpool.NewPool(cfg.WorkerCount, s.queue, s.dispatcher, store, s.reporter,
		workerpool.WithMaxAttempts(cfg.MaxAttempts),
		workerpool.WithBackoff(workerpool.Backoff{Base: cfg.BackoffBase(), Max: cfg.BackoffMax()}),
	)
	s.workerPool.Start(runCtx)

	if cfg.AMQPURL != "" {
		s.subscriber = bus.NewSubscriber(cfg.AMQPURL,
			bus.WithExchange(cfg.AMQPExchange),
			bus.WithQueue(cfg.AMQPQueue),
			bus.WithRoutingKeys(cfg.AMQPRoutingKeys...),
		)
		s.listener.Subscribe(s.subscriber)
		if err := s.subscriber.Start(runCtx); err != nil {
			s.closeAll(ctx)
			return fmt.Errorf("start event bus: %w", err)
		}
	}

	s.started = true
	s.logger.Info(ctx, "lms bridge started",
		logger.Int("workers", s.workerPool.Size()),
		logger.String("store", cfg.StorePath),
		logger.String("directory", s.directory),
		logger.String("dedupe", cfg.DedupeBackend),
		logger.String("endpoint", s.dispatcher.Endpoint()),
		logger.Bool("bus", s.subscriber != nil),
	)
	return nil
}

func (s *Service) newDeduper() dedupe.Deduper {
	if s.cfg.DedupeBackend == config.DedupeRedis {
		s.redis = redis.NewClient(&redis.Options{Addr: s.cfg.RedisAddr})
		return dedupe.NewRedisDeduper(s.redis,
			dedupe.WithTTL(time.Duration(s.cfg.DedupeTTLSeconds)*time.Second),
		)
	}
	return dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
}

func (s *Service) openProviders(ctx context.Context) (Providers, error) {
	switch {
	case s.providers != nil:
		s.directory = "custom"
		return s.providers, nil
	case s.cfg.MoodleDSN != "":
		db, err := moodledb.Open(ctx, s.cfg.MoodleDSN)
		if err != nil {
			return nil, err
		}
		dir, err := moodledb.New(db,
			moodledb.WithTablePrefix(s.cfg.MoodleTablePrefix),
			moodledb.WithOnlineThreshold(time.Duration(s.cfg.OnlineThresholdSeconds)*time.Second),
			moodledb.WithSessionGap(time.Duration(s.cfg.SessionGapSeconds)*time.Second),
		)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.hostDB = db
		s.directory = "moodle"
		return dir, nil
	default:
		dir := memdir.New()
		memdir.Seed(dir, s.cfg.DemoUsers, s.cfg.DemoCourses)
		s.directory = "demo"
		s.logger.Warn(ctx, "no moodle_dsn configured; using the in-memory demo directory",
			logger.Int("users", s.cfg.DemoUsers), logger.Int("courses", s.cfg.DemoCourses))
		return dir, nil
	}
}

// Stop gracefully shuts down the service. Undelivered tasks stay in the
// store for the next start.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping lms bridge...")
	s.closeAll(ctx)
	s.started = false
	s.logger.Info(ctx, "lms bridge stopped")
}

func (s *Service) closeAll(ctx context.Context) {
	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			s.logger.Warn(ctx, "event bus close failed", logger.Error(err))
		}
		s.subscriber = nil
	}
	if s.workerPool != nil {
		s.workerPool.Stop()
		s.workerPool = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "task store close failed", logger.Error(err))
		}
	}
	if s.hostDB != nil {
		_ = s.hostDB.Close()
		s.hostDB = nil
	}
	if s.redis != nil {
		_ = s.redis.Close()
		s.redis = nil
	}
}

// Handle runs one domain event through the listener.
func (s *Service) Handle(ctx context.Context, ev model.DomainEvent) listener.Result {
	s.mu.RLock()
	l := s.listener
	started := s.started
	s.mu.RUnlock()
	if !started {
		return listener.Result{Outcome: listener.OutcomeFailed, Reason: "not_started"}
	}
	return l.Handle(ctx, ev)
}

// OnEvent is the non-returning listener entry point for in-process hosts.
func (s *Service) OnEvent(ctx context.Context, ev model.DomainEvent) {
	_ = s.Handle(ctx, ev)
}

// Task returns a queued or failed task.
func (s *Service) Task(ctx context.Context, id uuid.UUID) (model.Task, error) {
	store, err := s.taskStore()
	if err != nil {
		return model.Task{}, err
	}
	return store.Get(ctx, id)
}

// Tasks lists tasks in status.
func (s *Service) Tasks(ctx context.Context, status model.TaskStatus, limit int) ([]model.Task, error) {
	store, err := s.taskStore()
	if err != nil {
		return nil, err
	}
	return store.List(ctx, status, limit)
}

// Requeue moves a failed task back to pending.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) error {
	s.mu.RLock()
	q := s.queue
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	if err := q.Requeue(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "task requeued", logger.String("task_id", id.String()))
	return nil
}

// Failures lists the most recent failure records.
func (s *Service) Failures(ctx context.Context, limit int) ([]model.FailureRecord, error) {
	store, err := s.taskStore()
	if err != nil {
		return nil, err
	}
	return store.Failures(ctx, limit)
}

func (s *Service) taskStore() (*repository.SQLiteStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// Queries returns the read-only lookups served by the query API.
func (s *Service) Queries() *payload.Builder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builder
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": 0,
		"directory":   s.directory,
	}
	if !s.started {
		return stats
	}

	stats["workerCount"] = s.workerPool.Size()
	stats["queueLength"] = s.queue.Len(ctx)
	stats["dedupeSize"] = s.deduper.Size()
	stats["endpoint"] = s.dispatcher.Endpoint()
	if counts, err := s.store.Counts(ctx); err == nil {
		stats["pending"] = counts[model.TaskPending]
		stats["inFlight"] = counts[model.TaskInFlight]
		stats["failed"] = counts[model.TaskFailed]
	}
	metrics.UpdateWorkerCount(s.workerPool.Size())
	return stats
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
