package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink writes events to a topic keyed by account token, so all events
// of one account land on one partition in order.
type KafkaSink struct {
	w kafkaWriter
}

// NewKafkaSink creates a synchronous writer. Brokers may also be given as a
// single comma-separated entry.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		for _, p := range strings.Split(b, ",") {
			if p = strings.TrimSpace(p); p != "" {
				brokers = append(brokers, p)
			}
		}
	}
	if len(brokers) == 0 {
		return nil, eris.New("notify: kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, eris.New("notify: kafka topic is required")
	}
	return &KafkaSink{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}
	err = s.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.AccountToken),
		Value:   body,
		Time:    ev.At,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(ev.Type)}},
	})
	return eris.Wrap(err, "notify: kafka write")
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return eris.Wrap(s.w.Close(), "notify: kafka close")
}
