/*
File: internal/delivery/coordinator.go
Description: Decides between live and deferred delivery, flushes queued
messages when a user reconnects, and relays ephemeral events between
online users.
*/
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// Outcome reports how a message was handled.
type Outcome string

const (
	// OutcomeLive means the recipient's connection accepted the message.
	OutcomeLive Outcome = "live"
	// OutcomeDeferred means the message was queued and a push notification attempted.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeDropped means the envelope could not be encoded.
	OutcomeDropped Outcome = "dropped"
)

// presence is the read side of the presence registry.
type presence interface {
	Lookup(id relay.UserID) (relay.Connection, bool)
	Snapshot() []relay.UserID
}

// deferredQueue is the part of the queue broker the coordinator drives.
type deferredQueue interface {
	Enqueue(ctx context.Context, id relay.UserID, payload json.RawMessage) string
	Flush(ctx context.Context, id relay.UserID, deliver func([]relay.QueuedItem) bool) bool
}

// Coordinator routes messages to live connections or the deferred queue.
type Coordinator struct {
	presence presence
	queue    deferredQueue
	notifier relay.PushNotifier
	profiles relay.ProfileStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(
	presence presence,
	queue deferredQueue,
	notifier relay.PushNotifier,
	profiles relay.ProfileStore,
	logger *slog.Logger,
) (*Coordinator, error) {
	if presence == nil {
		return nil, fmt.Errorf("presence registry cannot be nil")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("push notifier cannot be nil")
	}
	if profiles == nil {
		return nil, fmt.Errorf("profile store cannot be nil")
	}
	return &Coordinator{
		presence: presence,
		queue:    queue,
		notifier: notifier,
		profiles: profiles,
		logger:   logger.With("component", "delivery_coordinator"),
		now:      time.Now,
	}, nil
}

// Deliver sends the envelope to the recipient's live connection. If the
// recipient is offline, or their connection refuses the message, the message
// is queued and a push notification is attempted.
func (c *Coordinator) Deliver(ctx context.Context, sender, recipient relay.UserID, env relay.Envelope) Outcome {
	env.SenderID = sender
	env.RecipientID = recipient
	if env.SentAt.IsZero() {
		env.SentAt = c.now().UTC()
	}

	log := c.logger.With("sender", sender.String(), "recipient", recipient.String(), "msg_id", env.ID)

	senderName := c.displayName(ctx, sender)
	msg := relay.NewMessage{
		Message: env,
		Sender:  relay.SenderInfo{ID: sender, Name: senderName},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error("Failed to marshal message. Dropping.", "err", err)
		return OutcomeDropped
	}
	evt := relay.Event{Name: relay.EventNewMessage, Data: payload}

	if conn, ok := c.presence.Lookup(recipient); ok {
		if conn.Send(evt) {
			log.Debug("Delivered message live")
			return OutcomeLive
		}
		log.Warn("Live connection refused message. Deferring.", "conn_id", conn.ID())
	}

	log.Info("Recipient offline. Deferring message.")
	itemID := c.queue.Enqueue(ctx, recipient, payload)
	log.Debug("Message queued", "item_id", itemID)

	// The recipient may have connected and flushed between the lookup and the
	// enqueue. Flush again so the item is not left behind.
	if conn, ok := c.presence.Lookup(recipient); ok {
		log.Debug("Recipient came online while queuing. Flushing.", "conn_id", conn.ID())
		c.flush(ctx, recipient, conn, false)
	}

	if err := c.notifier.SendOfflineNotification(ctx, recipient, summarize(senderName, env)); err != nil {
		log.Error("Failed to send offline notification", "err", err)
	}
	return OutcomeDeferred
}

// FlushOnReconnect pushes every queued item to the connection as a single
// queuedMessages event, even when there are none. The queue is cleared only
// if the connection accepted the event.
func (c *Coordinator) FlushOnReconnect(ctx context.Context, id relay.UserID, conn relay.Connection) {
	c.flush(ctx, id, conn, true)
}

// flush hands the queue to conn. With sendEmpty unset an empty queue sends nothing.
func (c *Coordinator) flush(ctx context.Context, id relay.UserID, conn relay.Connection, sendEmpty bool) {
	log := c.logger.With("user", id.String(), "conn_id", conn.ID())

	c.queue.Flush(ctx, id, func(items []relay.QueuedItem) bool {
		if len(items) == 0 && !sendEmpty {
			return true
		}
		evt, err := relay.NewEvent(relay.EventQueuedMessages, relay.QueuedMessages{Items: items})
		if err != nil {
			log.Error("Failed to build queued messages event", "err", err)
			return false
		}
		if !conn.Send(evt) {
			log.Warn("Connection refused queued messages", "count", len(items))
			return false
		}
		if len(items) > 0 {
			log.Info("Flushed queued messages", "count", len(items))
		}
		return true
	})
}

// RelayTyping forwards a typing indicator if the recipient is online.
func (c *Coordinator) RelayTyping(ctx context.Context, from, to relay.UserID, isTyping bool) bool {
	conn, ok := c.presence.Lookup(to)
	if !ok {
		return false
	}
	return c.send(conn, relay.EventUserTyping, relay.TypingNotice{
		SenderID:   from,
		SenderName: c.displayName(ctx, from),
		IsTyping:   isTyping,
	})
}

// RelaySeen tells the original sender that the reader saw their message.
func (c *Coordinator) RelaySeen(ctx context.Context, reader relay.UserID, messageID string, sender relay.UserID) bool {
	conn, ok := c.presence.Lookup(sender)
	if !ok {
		return false
	}
	return c.send(conn, relay.EventMessageSeen, relay.SeenReceipt{
		MessageID:  messageID,
		SenderID:   sender,
		ReaderID:   reader,
		ReaderName: c.displayName(ctx, reader),
	})
}

// BroadcastToContacts sends an ephemeral event to each online contact and
// returns how many accepted it. Offline contacts are skipped.
func (c *Coordinator) BroadcastToContacts(_ context.Context, from relay.UserID, contacts []relay.UserID, name string, data json.RawMessage) int {
	evt, err := relay.NewEvent(name, relay.ContactEvent{UserID: from, Data: data})
	if err != nil {
		c.logger.Error("Failed to build contact event", "event", name, "err", err)
		return 0
	}

	delivered := 0
	for _, id := range contacts {
		if id == from {
			continue
		}
		if conn, ok := c.presence.Lookup(id); ok && conn.Send(evt) {
			delivered++
		}
	}
	c.logger.Debug("Broadcast to contacts", "user", from.String(), "event", name, "contacts", len(contacts), "delivered", delivered)
	return delivered
}

// OnlineUsers returns the ids of every connected user.
func (c *Coordinator) OnlineUsers() []relay.UserID {
	return c.presence.Snapshot()
}

func (c *Coordinator) send(conn relay.Connection, name string, data any) bool {
	evt, err := relay.NewEvent(name, data)
	if err != nil {
		c.logger.Error("Failed to build event", "event", name, "err", err)
		return false
	}
	return conn.Send(evt)
}

// displayName resolves a user's name, falling back to their id.
func (c *Coordinator) displayName(ctx context.Context, id relay.UserID) string {
	name, err := c.profiles.FetchDisplayName(ctx, id)
	if err != nil {
		if !errors.Is(err, relay.ErrProfileNotFound) {
			c.logger.Warn("Failed to fetch display name", "user", id.String(), "err", err)
		}
		return id.String()
	}
	return name
}

// summarize builds the push notification for a deferred message.
func summarize(senderName string, env relay.Envelope) relay.NotificationSummary {
	body := "sent you a new message"
	switch {
	case env.HasMedia:
		body = "📷 Photo"
	case env.Encrypted:
		body = "sent you a new message 🔒"
	}
	return relay.NotificationSummary{
		Title: senderName,
		Body:  body,
		Data: map[string]string{
			"type":       "message",
			"senderId":   env.SenderID.String(),
			"senderName": senderName,
			"messageId":  env.ID,
			"timestamp":  env.SentAt.Format(time.RFC3339),
		},
	}
}
