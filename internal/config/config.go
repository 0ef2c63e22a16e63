// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) initializer to build a Config with defaults.
// - Durations are expressed as integers with a unit suffix in the key name.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoder: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// APIBaseURL is the external business system's base URL.
	APIBaseURL string `koanf:"api_base_url"`

	// APIToken is the shared secret sent in every webhook body.
	APIToken string `koanf:"api_token"`

	// RemoteMethod is appended to {api_base_url}/api/method/.
	RemoteMethod string `koanf:"remote_method"`

	// HTTPTimeoutMS bounds each outbound POST.
	HTTPTimeoutMS int `koanf:"http_timeout_ms"`

	// WWWRoot is the host's public URL; its hostname becomes moodle_domain.
	WWWRoot string `koanf:"wwwroot"`

	// LocalTimezone shifts payload timestamps to that zone's wall-clock epoch.
	// Empty keeps plain Unix timestamps.
	LocalTimezone string `koanf:"local_timezone"`

	// IncludeIdempotencyKey adds idempotency_key to every payload.
	IncludeIdempotencyKey bool `koanf:"include_idempotency_key"`

	// StorePath is the SQLite file backing the durable queue and audit log.
	StorePath string `koanf:"store_path"`

	// WorkerCount sets the number of dispatcher workers.
	WorkerCount int `koanf:"worker_count"`

	// PollIntervalMS is how often idle workers look for due tasks.
	PollIntervalMS int `koanf:"poll_interval_ms"`

	// LeaseSeconds is how long a claimed task stays in flight before it can be reclaimed.
	LeaseSeconds int `koanf:"lease_seconds"`

	// MaxAttempts is the give-up threshold after which a task is retained as failed.
	MaxAttempts int `koanf:"max_attempts"`

	// BackoffBaseMS and BackoffMaxMS bound the exponential retry delay.
	BackoffBaseMS int `koanf:"backoff_base_ms"`
	BackoffMaxMS  int `koanf:"backoff_max_ms"`

	// MoodleDSN is the postgres connection string of the host database.
	MoodleDSN string `koanf:"moodle_dsn"`

	// MoodleTablePrefix is the host schema's table prefix.
	MoodleTablePrefix string `koanf:"moodle_table_prefix"`

	// OnlineThresholdSeconds marks a user online when a session was touched this recently.
	OnlineThresholdSeconds int `koanf:"online_threshold_seconds"`

	// SessionGapSeconds splits log activity into dedication sessions.
	SessionGapSeconds int `koanf:"session_gap_seconds"`

	// DedupeBackend is "memory" or "redis".
	DedupeBackend string `koanf:"dedupe_backend"`

	// DedupeSize bounds the in-memory deduper.
	DedupeSize int `koanf:"dedupe_size"`

	// DedupeTTLSeconds is how long the redis deduper remembers a key.
	DedupeTTLSeconds int `koanf:"dedupe_ttl_seconds"`

	// RedisAddr is used when DedupeBackend is "redis".
	RedisAddr string `koanf:"redis_addr"`

	// AMQPURL enables the event bus subscriber when set.
	AMQPURL string `koanf:"amqp_url"`

	// AMQPExchange, AMQPQueue and AMQPRoutingKeys describe the bus binding.
	AMQPExchange    string   `koanf:"amqp_exchange"`
	AMQPQueue       string   `koanf:"amqp_queue"`
	AMQPRoutingKeys []string `koanf:"amqp_routing_keys"`

	// QueryRateLimitPerMinute caps /query requests per client IP.
	QueryRateLimitPerMinute int `koanf:"query_rate_limit_per_minute"`

	// DemoUsers and DemoCourses size the in-memory directory used when
	// MoodleDSN is empty.
	DemoUsers   int `koanf:"demo_users"`
	DemoCourses int `koanf:"demo_courses"`
}

// Dedupe backends.
const (
	DedupeMemory = "memory"
	DedupeRedis  = "redis"
)

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		RemoteMethod:            "moodle_integration.notify_frappe",
		HTTPTimeoutMS:           15_000,
		LocalTimezone:           "Europe/Madrid",
		IncludeIdempotencyKey:   true,
		StorePath:               "lmsbridge.sqlite",
		WorkerCount:             runtime.NumCPU(),
		PollIntervalMS:          1_000,
		LeaseSeconds:            60,
		MaxAttempts:             10,
		BackoffBaseMS:           5_000,
		BackoffMaxMS:            3_600_000,
		MoodleTablePrefix:       "mdl_",
		OnlineThresholdSeconds:  300,
		SessionGapSeconds:       3_600,
		DedupeBackend:           DedupeMemory,
		DedupeSize:              50_000,
		DedupeTTLSeconds:        86_400,
		AMQPExchange:            "moodle.events",
		AMQPQueue:               "lmsbridge.events",
		AMQPRoutingKeys:         []string{"#"},
		QueryRateLimitPerMinute: 120,
		DemoUsers:               50,
		DemoCourses:             5,
	}
}

// Validate checks structural constraints. Missing webhook settings are not
// an error here: the dispatcher reports them per task as NotConfigured.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.StorePath) == "":
		return fmt.Errorf("%w: store_path must not be empty", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfig)
	case c.HTTPTimeoutMS < 1:
		return fmt.Errorf("%w: http_timeout_ms must be positive", ErrInvalidConfig)
	case c.LeaseSeconds*1000 <= c.HTTPTimeoutMS:
		return fmt.Errorf("%w: lease_seconds must exceed http_timeout_ms", ErrInvalidConfig)
	case c.DemoUsers < 0 || c.DemoCourses < 0:
		return fmt.Errorf("%w: demo sizes must not be negative", ErrInvalidConfig)
	}
	switch c.DedupeBackend {
	case DedupeMemory:
	case DedupeRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis dedupe backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown dedupe_backend %q", ErrInvalidConfig, c.DedupeBackend)
	}
	if c.APIBaseURL != "" {
		u, err := url.Parse(c.APIBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: api_base_url %q is not an absolute URL", ErrInvalidConfig, c.APIBaseURL)
		}
	}
	if c.LocalTimezone != "" {
		if _, err := time.LoadLocation(c.LocalTimezone); err != nil {
			return fmt.Errorf("%w: local_timezone: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Domain returns the host's public hostname without scheme or port.
func (c *Config) Domain() string {
	u, err := url.Parse(c.WWWRoot)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Location returns the configured timezone, or nil when shifting is disabled.
func (c *Config) Location() *time.Location {
	if c.LocalTimezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.LocalTimezone)
	if err != nil {
		return nil
	}
	return loc
}

// HTTPTimeout returns the outbound POST timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMS) * time.Millisecond
}

// PollInterval returns the idle poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Lease returns the in-flight lease duration.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}
