package payload

import (
	"time"

	"github.com/okian/lmsbridge/pkg/logger"
)

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithDomain sets the host's public hostname reported as moodle_domain.
func WithDomain(host string) Option {
	return func(b *Builder) {
		b.domain = host
	}
}

// WithLocation shifts payload timestamps to loc's wall-clock epoch.
// A nil location keeps plain Unix timestamps.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		b.loc = loc
	}
}

// WithIdempotencyKey toggles the idempotency_key payload field.
func WithIdempotencyKey(enabled bool) Option {
	return func(b *Builder) {
		b.idempotencyKey = enabled
	}
}

// WithActivity sets the course access provider.
func WithActivity(a Activity) Option {
	return func(b *Builder) {
		b.activity = a
	}
}

// WithTracking sets the dedication/completion provider.
func WithTracking(t Tracking) Option {
	return func(b *Builder) {
		b.tracking = t
	}
}

// WithGroups sets the group membership provider.
func WithGroups(g Groups) Option {
	return func(b *Builder) {
		b.groups = g
	}
}

// WithLogger sets a custom logger for the builder.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}
