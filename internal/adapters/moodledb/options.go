package moodledb

import (
	"time"

	"github.com/okian/lmsbridge/pkg/logger"
)

// Option applies a configuration option to the Directory.
type Option func(*Directory)

// WithTablePrefix sets the host schema's table prefix (default "mdl_").
func WithTablePrefix(prefix string) Option {
	return func(d *Directory) {
		d.prefix = prefix
	}
}

// WithOnlineThreshold sets how recently a session must have been touched
// for the user to count as online.
func WithOnlineThreshold(t time.Duration) Option {
	return func(d *Directory) {
		if t > 0 {
			d.onlineThreshold = t
		}
	}
}

// WithSessionGap sets the idle gap that splits log activity into sessions.
func WithSessionGap(gap time.Duration) Option {
	return func(d *Directory) {
		if gap > 0 {
			d.sessionGap = gap
		}
	}
}

// WithClock overrides the time source used for the online check.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.log = l
		}
	}
}
