package notify

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitConfig configures the RabbitMQ sink.
type RabbitConfig struct {
	URL   string
	Queue string
	// SplitByType publishes each event type to "<queue>.<type>".
	SplitByType bool
}

// RabbitSink publishes events as JSON to durable queues on the default
// exchange.
type RabbitSink struct {
	cfg  RabbitConfig
	conn io.Closer
	ch   amqpChannel

	mu       sync.Mutex
	declared map[string]bool
}

// NewRabbitSink dials the broker and opens a channel.
func NewRabbitSink(cfg RabbitConfig) (*RabbitSink, error) {
	if cfg.Queue == "" {
		cfg.Queue = "comms_events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "notify: rabbitmq dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "notify: rabbitmq channel")
	}
	zap.L().Info("rabbitmq connection established", zap.String("queue", cfg.Queue))
	return newRabbitSink(cfg, conn, ch), nil
}

func newRabbitSink(cfg RabbitConfig, conn io.Closer, ch amqpChannel) *RabbitSink {
	return &RabbitSink{cfg: cfg, conn: conn, ch: ch, declared: make(map[string]bool)}
}

// Name implements Sink.
func (s *RabbitSink) Name() string { return "rabbitmq" }

// QueueFor returns the queue an event type is published to.
func (s *RabbitSink) QueueFor(eventType string) string {
	if s.cfg.SplitByType && eventType != "" {
		return s.cfg.Queue + "." + eventType
	}
	return s.cfg.Queue
}

// Publish implements Sink.
func (s *RabbitSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}
	queue := s.QueueFor(ev.Type)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.declared[queue] {
		if _, err := s.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return eris.Wrapf(err, "notify: declare queue %s", queue)
		}
		s.declared[queue] = true
	}
	err = s.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         ev.Type,
		Timestamp:    ev.At,
		Body:         body,
	})
	return eris.Wrapf(err, "notify: publish to %s", queue)
}

// Close closes the channel and the connection.
func (s *RabbitSink) Close() error {
	chErr := s.ch.Close()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return eris.Wrap(err, "notify: rabbitmq close")
		}
	}
	return eris.Wrap(chErr, "notify: rabbitmq channel close")
}
