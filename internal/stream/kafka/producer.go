// Package kafka streams execution and opportunity events to Kafka.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Config configures the producer.
type Config struct {
	Brokers     []string
	TopicPrefix string
	// WriteTimeout bounds a single publish. Zero means 5s.
	WriteTimeout time.Duration
}

// Producer publishes events with one kafka.Writer. The topic is chosen per
// message, so a single writer serves every event type.
type Producer struct {
	writer  *kafka.Writer
	prefix  string
	timeout time.Duration
}

// NewProducer builds a synchronous producer that waits for all replicas.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: %w: no brokers", domain.ErrInvalidConfig)
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		prefix:  cfg.TopicPrefix,
		timeout: timeout,
	}, nil
}

// Publish writes payload to topic keyed by key. Messages with the same key
// land on the same partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := p.message(topic, key, payload)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) message(topic, key string, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: topicName(p.prefix, topic),
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
}

func topicName(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return strings.TrimSuffix(prefix, ".") + "." + topic
}

var _ domain.EventPublisher = (*Producer)(nil)
