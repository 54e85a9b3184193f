// Package relay contains the public domain models and collaborator contracts
// for the presence relay. It defines the contract for interacting with the service.
package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// UserID is the opaque, stable identifier of a user.
type UserID string

func (u UserID) String() string { return string(u) }

// Envelope is the outbound message unit relayed between two users.
// The payload is never inspected by the relay.
type Envelope struct {
	ID          string          `json:"id"`
	SenderID    UserID          `json:"senderId"`
	RecipientID UserID          `json:"recipientId"`
	Payload     json.RawMessage `json:"payload"`
	Encrypted   bool            `json:"encrypted"`
	HasMedia    bool            `json:"hasMedia"`
	SentAt      time.Time       `json:"sentAt"`
}

// QueuedItem is a message held for an offline recipient.
type QueuedItem struct {
	ID          string          `json:"id"`
	RecipientID UserID          `json:"recipientId"`
	Payload     json.RawMessage `json:"payload"`
	QueuedAt    time.Time       `json:"timestamp"`
}

// Event is a single frame on the client connection.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event frame.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	return Event{Name: name, Data: raw}, nil
}

// Connection is a live, authenticated client connection.
type Connection interface {
	ID() string
	UserID() UserID
	ConnectedAt() time.Time
	// Send queues an event for the client without blocking.
	// It returns false if the event was not accepted.
	Send(evt Event) bool
}

// NotificationSummary is the content of an offline push notification.
type NotificationSummary struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}
