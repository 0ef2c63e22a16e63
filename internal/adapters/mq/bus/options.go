package bus

import "github.com/okian/lmsbridge/pkg/logger"

// Option applies a configuration option to the Subscriber.
type Option func(*Subscriber)

// WithExchange sets the topic exchange the queue is bound to.
func WithExchange(name string) Option {
	return func(s *Subscriber) {
		if name != "" {
			s.exchange = name
		}
	}
}

// WithQueue sets the durable queue name.
func WithQueue(name string) Option {
	return func(s *Subscriber) {
		if name != "" {
			s.queue = name
		}
	}
}

// WithRoutingKeys sets the binding keys.
func WithRoutingKeys(keys ...string) Option {
	return func(s *Subscriber) {
		if len(keys) > 0 {
			s.keys = keys
		}
	}
}

// WithPrefetch sets the channel QoS prefetch count.
func WithPrefetch(n int) Option {
	return func(s *Subscriber) {
		if n > 0 {
			s.prefetch = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}
