// internal/events/producer.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	skafka "github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Publisher publishes a JSON value under a key.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
	Close() error
}

// KafkaProducer is a thin wrapper around a kafka writer implementing Publisher.
type KafkaProducer struct {
	writer Writer
	logger *slog.Logger
}

// NewKafkaProducer writes to one topic on the given broker.
func NewKafkaProducer(brokerURL, topic string, logger *slog.Logger) *KafkaProducer {
	w := &skafka.Writer{
		Addr:                   skafka.TCP(brokerURL),
		Topic:                  topic,
		Balancer:               &skafka.Hash{}, // same payment id, same partition
		RequiredAcks:           skafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaProducerWithWriter(w, logger)
}

func NewKafkaProducerWithWriter(w Writer, logger *slog.Logger) *KafkaProducer {
	return &KafkaProducer{writer: w, logger: logger.With(slog.String("component", "kafka.producer"))}
}

func (p *KafkaProducer) Publish(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kafka value: %w", err)
	}
	msg := skafka.Message{Key: []byte(key), Value: b}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka write failed", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
