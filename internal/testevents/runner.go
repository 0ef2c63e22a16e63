package testevents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
)

const (
	directoryPermission  = 0o750
	percentageMultiplier = 100
)

// Run executes a complete emit-and-drain cycle against the bridge.
func Run(ctx context.Context, cfg *Config) error {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().With(logger.String("run", uuid.NewString()))

	log.Info(ctx, "starting event emitter",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("events", cfg.NumEvents),
		logger.Int("users", cfg.Users),
		logger.Int("courses", cfg.Courses),
		logger.Float64("redeliver", cfg.Redeliver),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
		logger.Bool("verbose", cfg.Verbose))

	if err := checkServiceHealth(ctx, cfg); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	events, err := generateEvents(ctx, cfg, stats)
	if err != nil {
		return fmt.Errorf("event generation failed: %w", err)
	}

	submitEvents(ctx, cfg, events, stats)
	if again := redeliveries(events, cfg.Redeliver, cfg.Seed); len(again) > 0 {
		log.Info(ctx, "redelivering events", logger.Int("count", len(again)))
		submitEvents(ctx, cfg, again, stats)
	}

	drainErr := waitForDrain(ctx, cfg, stats)
	if drainErr != nil {
		log.Warn(ctx, "queue not drained", logger.Error(drainErr))
	}

	if err := verifyResults(ctx, cfg, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	if err := saveEventsToFile(ctx, cfg, events); err != nil {
		log.Warn(ctx, "failed to save events to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if drainErr != nil {
		return drainErr
	}
	log.Info(ctx, "run completed successfully")
	return nil
}

// checkServiceHealth verifies the bridge is up.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	client := newHTTPClient(cfg.Timeout)
	resp, err := client.Get(ctx, cfg.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveEventsToFile writes the generated events as a JSON array.
func saveEventsToFile(ctx context.Context, cfg *Config, events []model.DomainEvent) error {
	if len(events) == 0 {
		return fmt.Errorf("no events to save")
	}

	filename := cfg.OutputFile
	if filename == "" {
		filename = "generated_events_" + time.Now().Format("20060102_150405") + ".json"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	logger.Get().Info(ctx, "events saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the run summary.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var ackRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		acked := stats.EventsEnqueued + stats.EventsDuplicate + stats.EventsDiscarded
		ackRate = float64(acked) / float64(stats.EventsSubmitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsEnqueued", stats.EventsEnqueued),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsDiscarded", stats.EventsDiscarded),
		logger.Int("eventsRejected", stats.EventsRejected),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Bool("queueDrained", stats.QueueDrained),
		logger.Int("queueRemaining", stats.QueueRemaining),
		logger.Int("failureRecords", stats.FailureRecords),
		logger.Duration("duration", stats.Duration),
		logger.Float64("ackRate", ackRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
