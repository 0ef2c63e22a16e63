// Package webhook delivers payloads to the business system's remote method.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
	"github.com/okian/lmsbridge/pkg/metrics"
)

const (
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 1 << 20
	tokenField       = "token"
	successStatus    = "success"
)

// Config is the injected delivery configuration.
type Config struct {
	BaseURL string
	Token   string
	Method  string
	Timeout time.Duration
}

// Dispatcher POSTs payloads to {BaseURL}/api/method/{Method}.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger logger.Logger
}

// NewDispatcher creates a Dispatcher. A zero Timeout uses the default.
func NewDispatcher(cfg Config, opts ...Option) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	d := &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Get().Named("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Endpoint returns the remote method URL.
func (d *Dispatcher) Endpoint() string {
	return strings.TrimRight(d.cfg.BaseURL, "/") + "/api/method/" + d.cfg.Method
}

// Dispatch delivers p once. It returns nil on success, ErrNotConfigured
// when the base URL, token or method is missing (no request is made), or a
// *DeliveryError. A 2xx status or a response whose message.status is
// "success" is enough for success.
func (d *Dispatcher) Dispatch(ctx context.Context, p model.Payload) error {
	if d.cfg.BaseURL == "" || d.cfg.Token == "" || d.cfg.Method == "" {
		metrics.RecordDelivery("not_configured")
		return ErrNotConfigured
	}

	body := p.Clone()
	body[tokenField] = d.cfg.Token
	raw, err := json.Marshal(body)
	if err != nil {
		metrics.RecordDelivery("failed")
		return &DeliveryError{Cause: fmt.Errorf("encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint(), bytes.NewReader(raw))
	if err != nil {
		metrics.RecordDelivery("failed")
		return &DeliveryError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.RecordDeliveryLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordDelivery("failed")
		return &DeliveryError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	remote := remoteStatus(respBody)

	d.logger.Debug(ctx, "webhook response",
		logger.String("action", p.Action()),
		logger.Int("status", resp.StatusCode),
		logger.String("remote_status", remote),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || remote == successStatus {
		metrics.RecordDelivery("delivered")
		return nil
	}

	metrics.RecordDelivery("failed")
	return &DeliveryError{StatusCode: resp.StatusCode, RemoteStatus: remote, Cause: readErr}
}

// remoteStatus extracts message.status from a JSON response body.
func remoteStatus(body []byte) string {
	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Message) == 0 {
		return ""
	}
	var msg struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(envelope.Message, &msg); err != nil {
		return ""
	}
	return msg.Status
}
