package testevents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
)

const workerChannelMultiplier = 2

// HTTPClient wraps http.Client with a per-request timeout.
type HTTPClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// getJSON decodes a 200 response body into v.
func (c *HTTPClient) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// submitEvents posts events concurrently and tallies the bridge's answers
// into stats.
func submitEvents(ctx context.Context, cfg *Config, events []model.DomainEvent, stats *Stats) {
	log := logger.Get()
	log.Info(ctx, "submitting events", logger.Int("events", len(events)), logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg.Timeout)
	url := cfg.BaseURL + "/events"

	var (
		t       tally
		lastLog atomic.Int64
	)

	eventChan := make(chan model.DomainEvent, cfg.Workers*workerChannelMultiplier)
	var wg sync.WaitGroup
	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range eventChan {
				n := t.add(submitSingleEvent(ctx, client, url, ev))

				now := time.Now().Unix()
				if prev := lastLog.Load(); now > prev && lastLog.CompareAndSwap(prev, now) && cfg.Verbose {
					log.Info(ctx, "progress",
						logger.Int64("submitted", n),
						logger.Int("total", len(events)),
						logger.Int64("enqueued", t.enqueued.Load()),
						logger.Int64("failed", t.failed.Load()))
				}
			}
		}()
	}

	go func() {
		defer close(eventChan)
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case eventChan <- ev:
			}
		}
	}()
	wg.Wait()

	stats.EventsSubmitted += int(t.submitted.Load())
	stats.EventsEnqueued += int(t.enqueued.Load())
	stats.EventsDuplicate += int(t.duplicate.Load())
	stats.EventsDiscarded += int(t.discarded.Load())
	stats.EventsRejected += int(t.rejected.Load())
	stats.EventsFailed += int(t.failed.Load())

	log.Info(ctx, "event submission completed",
		logger.Int64("enqueued", t.enqueued.Load()),
		logger.Int64("duplicate", t.duplicate.Load()),
		logger.Int64("discarded", t.discarded.Load()),
		logger.Int64("rejected", t.rejected.Load()),
		logger.Int64("failed", t.failed.Load()))
}

type tally struct {
	submitted, enqueued, duplicate, discarded, rejected, failed atomic.Int64
}

// add counts one submission and returns the running total.
func (t *tally) add(result string) int64 {
	switch result {
	case resultEnqueued:
		t.enqueued.Add(1)
	case resultDuplicate:
		t.duplicate.Add(1)
	case resultDiscarded:
		t.discarded.Add(1)
	case resultRejected:
		t.rejected.Add(1)
	default:
		t.failed.Add(1)
	}
	return t.submitted.Add(1)
}

// submitSingleEvent posts one event and classifies the answer.
func submitSingleEvent(ctx context.Context, client *HTTPClient, url string, ev model.DomainEvent) string {
	resp, err := client.Post(ctx, url, ev)
	if err != nil {
		return resultFailed
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resultFailed
	}
	return classify(resp.StatusCode, body)
}

// classify maps a /events response to a submission outcome.
func classify(status int, body []byte) string {
	switch status {
	case http.StatusAccepted:
		return resultEnqueued
	case http.StatusOK:
		var ack AckResponse
		if err := json.Unmarshal(body, &ack); err != nil {
			return resultFailed
		}
		switch ack.Status {
		case resultDuplicate:
			return resultDuplicate
		case resultDiscarded:
			return resultDiscarded
		}
		return resultFailed
	case http.StatusBadRequest:
		return resultRejected
	default:
		return resultFailed
	}
}
