// Package bus consumes host domain events from an AMQP topic exchange and
// hands them to registered handlers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/internal/listener"
	"github.com/okian/lmsbridge/pkg/logger"
)

// Subscriber is an AMQP-backed listener.Bus.
type Subscriber struct {
	url      string
	exchange string
	queue    string
	keys     []string
	prefetch int
	logger   logger.Logger

	mu       sync.RWMutex
	handlers map[model.Kind]listener.HandlerFunc

	conn *amqp.Connection
	ch   *amqp.Channel
	done chan struct{}
}

// NewSubscriber creates a Subscriber for the broker at url.
func NewSubscriber(url string, opts ...Option) *Subscriber {
	s := &Subscriber{
		url:      strings.TrimSpace(url),
		exchange: "moodle.events",
		queue:    "lmsbridge.events",
		keys:     []string{"#"},
		prefetch: 10,
		logger:   logger.Get().Named("bus"),
		handlers: make(map[model.Kind]listener.HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers h for kind, replacing any previous handler.
func (s *Subscriber) Subscribe(kind model.Kind, h listener.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Start declares the topology and consumes until ctx is done or the
// channel closes.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.url == "" {
		return ErrNoURL
	}
	if s.done != nil {
		return ErrAlreadyStarted
	}

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("bus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("bus: channel: %w", err)
	}
	fail := func(step string, err error) error {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bus: %s: %w", step, err)
	}

	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("exchange declare", err)
	}
	q, err := ch.QueueDeclare(s.queue, true, false, false, false, nil)
	if err != nil {
		return fail("queue declare", err)
	}
	for _, key := range s.keys {
		if err := ch.QueueBind(q.Name, key, s.exchange, false, nil); err != nil {
			return fail("queue bind", err)
		}
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fail("qos", err)
	}
	deliveries, err := ch.Consume(q.Name, "lmsbridge", false, false, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}

	s.conn, s.ch = conn, ch
	s.done = make(chan struct{})
	go s.consume(ctx, deliveries)

	s.logger.Info(ctx, "consumer started",
		logger.String("exchange", s.exchange),
		logger.String("queue", q.Name),
		logger.Any("routing_keys", s.keys))
	return nil
}

func (s *Subscriber) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				s.logger.Warn(ctx, "delivery channel closed")
				return
			}
			s.handle(ctx, d)
		}
	}
}

// handle decodes one delivery and acks it after the handler returns.
// Poison messages are rejected without requeue.
func (s *Subscriber) handle(ctx context.Context, d amqp.Delivery) {
	ev, err := decode(d)
	if err != nil {
		s.logger.Warn(ctx, "dropping undecodable delivery",
			logger.String("routing_key", d.RoutingKey),
			logger.Error(err))
		_ = d.Reject(false)
		return
	}

	s.mu.RLock()
	h, ok := s.handlers[ev.Kind]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debug(ctx, "no handler for kind", logger.String("kind", ev.Kind.String()))
		_ = d.Reject(false)
		return
	}

	h(ctx, ev)
	if err := d.Ack(false); err != nil {
		s.logger.Error(ctx, "ack failed", logger.Error(err))
	}
}

// decode reads a JSON DomainEvent. A missing kind is taken from the last
// segment of the routing key.
func decode(d amqp.Delivery) (model.DomainEvent, error) {
	var ev model.DomainEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return model.DomainEvent{}, fmt.Errorf("decode: %w", err)
	}
	if ev.Kind == "" {
		key := d.RoutingKey
		if i := strings.LastIndex(key, "."); i >= 0 {
			key = key[i+1:]
		}
		ev.Kind = model.Kind(key)
	}
	kind, err := model.ParseKind(string(ev.Kind))
	if err != nil {
		return model.DomainEvent{}, err
	}
	ev.Kind = kind
	return ev, nil
}

// Close stops consuming and closes the connection.
func (s *Subscriber) Close() error {
	if s.ch == nil {
		return nil
	}
	chErr := s.ch.Close()
	connErr := s.conn.Close()
	<-s.done
	if chErr != nil {
		return fmt.Errorf("bus: close channel: %w", chErr)
	}
	if connErr != nil {
		return fmt.Errorf("bus: close connection: %w", connErr)
	}
	return nil
}
