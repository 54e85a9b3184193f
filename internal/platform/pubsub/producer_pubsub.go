/*
File: internal/platform/pubsub/producer_pubsub.go
Description: Publishes raw payloads to a Google Cloud Pub/Sub topic and waits
for the server to acknowledge them.
*/
// Package pubsub contains concrete adapters for interacting with Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
)

// topicPublisher is the part of *pubsub.Publisher the producer drives.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Producer is a thin adapter over a Pub/Sub publisher. Every publish blocks
// until the server assigns a message id or the context ends.
type Producer struct {
	publisher topicPublisher
	logger    *slog.Logger
}

// NewProducer wraps publisher. Callers own the publisher and must Stop it.
func NewProducer(publisher topicPublisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger.With("component", "pubsub_producer"),
	}
}

// Publish sends data with optional attributes and returns the server-assigned
// message id.
func (p *Producer) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})

	id, err := result.Get(ctx)
	if err != nil {
		p.logger.Warn("Publish was not acknowledged", "bytes", len(data), "err", err)
		return "", fmt.Errorf("pubsub publish: %w", err)
	}
	p.logger.Debug("Published message", "message_id", id, "bytes", len(data))
	return id, nil
}
