package testevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/lmsbridge/pkg/logger"
)

const drainPollInterval = 500 * time.Millisecond

// ErrNotDrained is returned when the queue still holds tasks at the deadline.
var ErrNotDrained = errors.New("testevents: queue did not drain")

// queueLength reads queueLength from /stats. JSON numbers decode as float64.
func queueLength(ctx context.Context, client *HTTPClient, baseURL string) (int, error) {
	var stats map[string]any
	if err := client.getJSON(ctx, baseURL+"/stats", &stats); err != nil {
		return 0, err
	}
	n, ok := stats["queueLength"].(float64)
	if !ok {
		return 0, fmt.Errorf("stats: queueLength missing")
	}
	return int(n), nil
}

// waitForDrain polls /stats until the durable queue is empty or the drain
// timeout passes.
func waitForDrain(ctx context.Context, cfg *Config, stats *Stats) error {
	log := logger.Get()
	client := newHTTPClient(cfg.Timeout)

	ctx, cancel := context.WithTimeout(ctx, cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		n, err := queueLength(ctx, client, cfg.BaseURL)
		switch {
		case err == nil && n == 0:
			stats.QueueDrained = true
			stats.QueueRemaining = 0
			log.Info(ctx, "queue drained")
			return nil
		case err == nil:
			stats.QueueRemaining = n
			if cfg.Verbose {
				log.Info(ctx, "waiting for queue", logger.Int("queueLength", n))
			}
		default:
			log.Warn(ctx, "stats poll failed", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d tasks remaining", ErrNotDrained, stats.QueueRemaining)
		case <-ticker.C:
		}
	}
}

// verifyResults checks the submission tallies and reads the failure log.
// Every generated event should have been acknowledged; transport failures
// and rejections mean the generator and bridge disagree.
func verifyResults(ctx context.Context, cfg *Config, stats *Stats) error {
	log := logger.Get()
	client := newHTTPClient(cfg.Timeout)

	var failures []map[string]any
	if err := client.getJSON(ctx, cfg.BaseURL+"/failures?limit=1000", &failures); err != nil {
		log.Warn(ctx, "failed to read failure log", logger.Error(err))
	} else {
		stats.FailureRecords = len(failures)
		if len(failures) > 0 {
			log.Warn(ctx, "bridge recorded failures", logger.Int("count", len(failures)))
			if cfg.Verbose {
				for _, f := range failures {
					log.Warn(ctx, "failure", logger.Any("record", f))
				}
			}
		}
	}

	acknowledged := stats.EventsEnqueued + stats.EventsDuplicate + stats.EventsDiscarded
	if acknowledged+stats.EventsRejected+stats.EventsFailed != stats.EventsSubmitted {
		return fmt.Errorf("tally mismatch: %d acknowledged, %d rejected, %d failed of %d submitted",
			acknowledged, stats.EventsRejected, stats.EventsFailed, stats.EventsSubmitted)
	}
	if stats.EventsRejected > 0 {
		return fmt.Errorf("%d events rejected as invalid", stats.EventsRejected)
	}
	if stats.EventsFailed > 0 {
		return fmt.Errorf("%d events were not acknowledged", stats.EventsFailed)
	}
	log.Info(ctx, "result verification completed", logger.Int("acknowledged", acknowledged))
	return nil
}
