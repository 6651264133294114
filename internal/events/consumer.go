// internal/events/consumer.go
package events

import (
	"context"
	"log/slog"
	"time"

	skafka "github.com/segmentio/kafka-go"
)

// Reader is the subset of kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (skafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Handler processes one message. Returning an error asks for a retry.
type Handler func(ctx context.Context, key []byte, value []byte) error

type Consumer struct {
	reader Reader
	logger *slog.Logger

	handlerTimeout time.Duration
	maxAttempts    int
	backoff        time.Duration
}

// NewConsumer joins groupID on topic. Copies of a binary sharing the group
// split the partitions between them.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *Consumer {
	r := skafka.NewReader(skafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(r, logger.With(slog.String("topic", topic), slog.String("group", groupID)))
}

func NewConsumerWithReader(r Reader, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:         r,
		logger:         logger.With(slog.String("component", "kafka.consumer")),
		handlerTimeout: 10 * time.Second,
		maxAttempts:    5,
		backoff:        time.Second,
	}
}

// Start fetches until ctx is cancelled. A message is committed after the
// handler succeeds, or after maxAttempts failures so one poison message
// cannot stall the partition.
func (c *Consumer) Start(ctx context.Context, handler Handler) {
	c.logger.Info("kafka consumer started")
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("fetch failed", slog.Any("error", err))
			if !c.pause(ctx) {
				return
			}
			continue
		}

		if !c.handle(ctx, handler, m) {
			return
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("commit failed", slog.Int64("offset", m.Offset), slog.Any("error", err))
		}
	}
}

// handle runs the handler with retries; it returns false only on shutdown.
func (c *Consumer) handle(ctx context.Context, handler Handler, m skafka.Message) bool {
	for attempt := 1; ; attempt++ {
		processCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
		err := handler(processCtx, m.Key, m.Value)
		cancel()
		if err == nil {
			return true
		}
		if attempt >= c.maxAttempts {
			c.logger.Error("CRITICAL: giving up on message",
				slog.Int64("offset", m.Offset),
				slog.String("key", string(m.Key)),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return true
		}
		c.logger.Warn("processing failed, retrying",
			slog.Int64("offset", m.Offset),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if !c.pause(ctx) {
			return false
		}
	}
}

func (c *Consumer) pause(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
