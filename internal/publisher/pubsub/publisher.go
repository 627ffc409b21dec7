// Package pubsub publishes job lifecycle events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Result is satisfied by *pubsub.PublishResult.
type Result interface {
	Get(ctx context.Context) (string, error)
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) Result
}

// gcpPublisher adapts the concrete client publisher to topicPublisher.
type gcpPublisher struct {
	p *pubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) Result {
	return g.p.Publish(ctx, msg)
}

// Publisher publishes JSON payloads to one Pub/Sub topic.
type Publisher struct {
	publisher topicPublisher
	stop      func()
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	if publisher == nil {
		return &Publisher{}
	}
	return &Publisher{publisher: gcpPublisher{p: publisher}, stop: publisher.Stop}
}

// Dial opens a client and a publisher for topic in project.
func Dial(ctx context.Context, projectID, topic string) (*Publisher, *pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client.Publisher(topic)), client, nil
}

// Publish marshals the payload to JSON and publishes it. The topic argument
// is recorded as an attribute; the destination is fixed by the publisher.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"topic": topic}}
	if key := orderingKey(payload); key != "" {
		msg.Attributes["job_id"] = key
	}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *Publisher) Close() {
	if p.stop != nil {
		p.stop()
	}
}

func orderingKey(payload any) string {
	if k, ok := payload.(interface{ Key() string }); ok {
		return k.Key()
	}
	return ""
}
