// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/domain/grading"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/internal/listener"
	"github.com/okian/lmsbridge/pkg/logger"
)

// EventHandler hands an inbound domain event to the listener.
type EventHandler interface {
	Handle(ctx context.Context, ev model.DomainEvent) listener.Result
}

// TaskAdmin exposes the durable queue and failure log for inspection.
type TaskAdmin interface {
	Task(ctx context.Context, id uuid.UUID) (model.Task, error)
	Tasks(ctx context.Context, status model.TaskStatus, limit int) ([]model.Task, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	Failures(ctx context.Context, limit int) ([]model.FailureRecord, error)
}

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventHandler
	TaskAdmin
	StatsProvider
}

// Queries are the read-only lookups served under /query.
type Queries interface {
	CourseUserInfo(ctx context.Context, username string, courseID int64) (model.Payload, error)
	UserGrades(ctx context.Context, username string, courseID int64) ([]grading.View, error)
	CourseItems(ctx context.Context, courseID int64) ([]grading.View, error)
}

// Server wires HTTP routes for the bridge API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	eventsHandler *EventsHandler
	tasksHandler  *TasksHandler
	queryHandler  *QueryHandler

	queryLimit  int
	queryWindow time.Duration
	logger      logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithQueryRateLimit caps /query requests per client IP.
func WithQueryRateLimit(limit int, window time.Duration) Option {
	return func(s *Server) {
		if limit > 0 && window > 0 {
			s.queryLimit = limit
			s.queryWindow = window
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, queries Queries, opts ...Option) *Server {
	s := &Server{
		queryLimit:  120,
		queryWindow: time.Minute,
		logger:      logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	s.eventsHandler = NewEventsHandler(deps, s.logger)
	s.tasksHandler = NewTasksHandler(deps)
	s.queryHandler = NewQueryHandler(queries)
	return s
}

// Register attaches all HTTP routes to r. Routes are added in a group so
// r may already carry other routes.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)

		r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
		r.Handle("/metrics", s.healthHandler.MetricsHandler())
		r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
		r.Post("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))

		r.Get("/tasks", MetricsMiddleware(s.tasksHandler.HandleList, "tasks"))
		r.Get("/tasks/{id}", MetricsMiddleware(s.tasksHandler.HandleGet, "task"))
		r.Post("/tasks/{id}/requeue", MetricsMiddleware(s.tasksHandler.HandleRequeue, "requeue"))
		r.Get("/failures", MetricsMiddleware(s.tasksHandler.HandleFailures, "failures"))

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(s.queryLimit, s.queryWindow))
			r.Get("/query/{function}", MetricsMiddleware(s.queryHandler.HandleQuery, "query"))
		})
	})
}

// Handler returns a router with every route registered.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	s.Register(ctx, r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
