// --- File: internal/platform/push/notifier.go ---
// Package push sends offline notification requests to the notification service.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// EventProducer defines the interface for publishing a message.
type EventProducer interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// NotificationContent is the visible part of a push notification.
type NotificationContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

// NotificationRequest is the message consumed by the notification service.
type NotificationRequest struct {
	RequestID   string              `json:"requestId"`
	RecipientID string              `json:"recipientId"`
	Content     NotificationContent `json:"content"`
	DataPayload map[string]string   `json:"dataPayload,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// PubSubNotifier implements the relay.PushNotifier interface.
type PubSubNotifier struct {
	producer EventProducer
	logger   *slog.Logger
}

func NewPubSubNotifier(producer EventProducer, logger *slog.Logger) (*PubSubNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	return &PubSubNotifier{
		producer: producer,
		logger:   logger.With("component", "PubSubNotifier"),
	}, nil
}

// SendOfflineNotification publishes a notification request for the recipient.
func (n *PubSubNotifier) SendOfflineNotification(ctx context.Context, recipient relay.UserID, summary relay.NotificationSummary) error {
	if recipient == "" {
		return fmt.Errorf("SendOfflineNotification failed: recipient cannot be empty")
	}

	request := NotificationRequest{
		RequestID:   uuid.NewString(),
		RecipientID: recipient.String(),
		Content: NotificationContent{
			Title: summary.Title,
			Body:  summary.Body,
			Sound: "default",
		},
		DataPayload: summary.Data,
		CreatedAt:   time.Now().UTC(),
	}

	payloadBytes, err := json.Marshal(request)
	if err != nil {
		n.logger.Error("Failed to marshal notification request", "err", err)
		return fmt.Errorf("failed to marshal notification request: %w", err)
	}

	n.logger.Debug("Publishing notification request",
		"recipient", recipient.String(),
		"request_id", request.RequestID,
	)

	_, err = n.producer.Publish(ctx, payloadBytes, map[string]string{"type": summary.Data["type"]})
	if err != nil {
		return fmt.Errorf("failed to publish notification request: %w", err)
	}
	return nil
}
