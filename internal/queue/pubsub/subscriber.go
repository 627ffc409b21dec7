// Package pubsub consumes crawl notifications from a Pub/Sub subscription.
package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type handler interface {
	Handle(ctx context.Context, body []byte) error
}

// Subscriber acks handled or dropped messages and nacks transient failures.
type Subscriber struct {
	sub    receiver
	h      handler
	logger *zap.Logger
}

// New wraps a client subscriber.
func New(sub *pubsub.Subscriber, h handler, logger *zap.Logger) *Subscriber {
	return newSubscriber(sub, h, logger)
}

func newSubscriber(sub receiver, h handler, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{sub: sub, h: h, logger: logger}
}

// Dial opens a client and subscribes to subscription in project.
func Dial(ctx context.Context, projectID, subscription string, h handler, logger *zap.Logger) (*Subscriber, *pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client.Subscriber(subscription), h, logger), client, nil
}

// Run blocks in Receive until ctx ends.
func (s *Subscriber) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if s.process(ctx, m.ID, m.Data) {
			m.Ack()
			return
		}
		m.Nack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// process reports whether the message should be acked.
func (s *Subscriber) process(ctx context.Context, id string, data []byte) bool {
	if err := s.h.Handle(ctx, data); err != nil {
		s.logger.Warn("nacking notification", zap.String("message_id", id), zap.Error(err))
		return false
	}
	return true
}
