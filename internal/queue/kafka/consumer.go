// Package kafka consumes crawl notifications from a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type handler interface {
	Handle(ctx context.Context, body []byte) error
}

// Config selects the topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads notifications and commits each one after it was handled.
type Consumer struct {
	reader       messageReader
	h            handler
	logger       *zap.Logger
	rptr         *repeater.Repeater
	fetchBackoff time.Duration
}

// New creates a group consumer for cfg.Topic.
func New(cfg Config, h handler, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return newConsumer(reader, h, logger)
}

func newConsumer(reader messageReader, h handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader: reader,
		h:      h,
		logger: logger,
		rptr: repeater.New(&strategy.Backoff{
			Repeats:  5,
			Duration: 200 * time.Millisecond,
			Factor:   2,
			Jitter:   true,
		}),
		fetchBackoff: 500 * time.Millisecond,
	}
}

// Run consumes until ctx ends. When a message keeps failing it is left
// uncommitted and Run returns, so the group redelivers it after a restart.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.fetchBackoff):
			}
			continue
		}

		err = c.rptr.Do(ctx, func() error { return c.h.Handle(ctx, msg.Value) })
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle %s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}
	return nil
}
