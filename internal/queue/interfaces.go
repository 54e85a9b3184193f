// --- File: internal/queue/interfaces.go ---
// Package queue defines the deferred-delivery queue for offline recipients.
package queue

import (
	"context"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// Backend is a per-user store of queued items. Both the durable (Redis) and
// the in-process fallback queues implement it.
type Backend interface {
	// Enqueue appends an item to the tail of the recipient's queue.
	Enqueue(ctx context.Context, item relay.QueuedItem) error

	// Drain returns every item queued for a user, oldest first.
	// It does not remove them.
	Drain(ctx context.Context, id relay.UserID) ([]relay.QueuedItem, error)

	// Clear removes every item queued for a user. Clearing an empty
	// queue is not an error.
	Clear(ctx context.Context, id relay.UserID) error

	// Stats reports the number of queued items per user.
	Stats(ctx context.Context) (map[relay.UserID]int, error)
}
