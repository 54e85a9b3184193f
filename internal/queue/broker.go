/*
File: internal/queue/broker.go
Description: The queue broker fronts a durable backend (Redis) and an
in-process fallback. The first durable failure switches the broker to the
fallback for the rest of the process lifetime. Callers never see an error.
*/
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// Broker is the single queue dependency for the rest of the application.
type Broker struct {
	durable      Backend
	fallback     Backend
	usingDurable atomic.Bool
	locks        *keyedMutex
	logger       *slog.Logger
	now          func() time.Time
}

// NewBroker creates a broker. A nil durable backend starts the broker in
// fallback mode, which is how local runs without Redis operate.
func NewBroker(durable, fallback Backend, logger *slog.Logger) (*Broker, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback queue cannot be nil")
	}
	b := &Broker{
		durable:  durable,
		fallback: fallback,
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "queue_broker"),
		now:      time.Now,
	}
	b.usingDurable.Store(durable != nil)
	return b, nil
}

// UsingDurable reports whether the durable backend is still in use.
func (b *Broker) UsingDurable() bool {
	return b.usingDurable.Load()
}

// Degrade switches the broker to the fallback backend. Only the first call
// has an effect; there is no way back short of a restart.
func (b *Broker) Degrade(reason error) {
	if b.usingDurable.CompareAndSwap(true, false) {
		b.logger.Error("Durable queue unavailable. Switching to in-process fallback queue until restart.", "err", reason)
	}
}

// Enqueue wraps the payload with an id and timestamp and queues it for the
// recipient. It returns the id assigned to the item. If both backends fail the
// item is dropped and the failure is logged.
//
// A payload that is not valid JSON cannot be stored by any backend. It is
// dropped without touching the backends and Enqueue returns an empty id.
func (b *Broker) Enqueue(ctx context.Context, id relay.UserID, payload json.RawMessage) string {
	if len(payload) > 0 && !json.Valid(payload) {
		b.logger.Error("Payload is not valid JSON. Item dropped.", "user", id.String(), "bytes", len(payload))
		return ""
	}

	unlock := b.locks.Lock(id)
	defer unlock()

	item := relay.QueuedItem{
		ID:          uuid.NewString(),
		RecipientID: id,
		Payload:     payload,
		QueuedAt:    b.now().UTC(),
	}
	log := b.logger.With("user", id.String(), "item_id", item.ID)

	if b.usingDurable.Load() {
		err := b.durable.Enqueue(ctx, item)
		if err == nil {
			log.Debug("Queued item on durable queue")
			return item.ID
		}
		log.Warn("Durable queue enqueue failed. Retrying on fallback queue.", "err", err)
		b.Degrade(err)
	}

	if err := b.fallback.Enqueue(ctx, item); err != nil {
		log.Error("Fallback queue enqueue failed. Item dropped.", "err", err)
		return item.ID
	}
	log.Debug("Queued item on fallback queue")
	return item.ID
}

// DrainAll returns every item queued for the user, oldest first, without
// removing them.
func (b *Broker) DrainAll(ctx context.Context, id relay.UserID) []relay.QueuedItem {
	unlock := b.locks.Lock(id)
	defer unlock()
	return b.drain(ctx, id)
}

// Clear removes every item queued for the user.
func (b *Broker) Clear(ctx context.Context, id relay.UserID) {
	unlock := b.locks.Lock(id)
	defer unlock()
	b.clear(ctx, id)
}

// Flush drains the user's queue and hands the batch to deliver. The queue is
// cleared only if deliver reports that the batch was accepted. No enqueue for
// the same user can interleave between the drain and the clear.
func (b *Broker) Flush(ctx context.Context, id relay.UserID, deliver func([]relay.QueuedItem) bool) bool {
	unlock := b.locks.Lock(id)
	defer unlock()

	items := b.drain(ctx, id)
	if !deliver(items) {
		b.logger.Warn("Queued items were not accepted. Keeping queue intact.", "user", id.String(), "count", len(items))
		return false
	}
	if len(items) > 0 {
		b.clear(ctx, id)
	}
	return true
}

// Stats reports queue lengths from the durable backend. It is diagnostic only
// and returns an empty map once the broker has degraded.
func (b *Broker) Stats(ctx context.Context) map[relay.UserID]int {
	if !b.usingDurable.Load() {
		return map[relay.UserID]int{}
	}
	stats, err := b.durable.Stats(ctx)
	if err != nil {
		b.logger.Warn("Failed to collect durable queue stats", "err", err)
		return map[relay.UserID]int{}
	}
	return stats
}

func (b *Broker) drain(ctx context.Context, id relay.UserID) []relay.QueuedItem {
	log := b.logger.With("user", id.String())

	if b.usingDurable.Load() {
		items, err := b.durable.Drain(ctx, id)
		if err == nil {
			return nonNil(items)
		}
		log.Warn("Durable queue drain failed. Retrying on fallback queue.", "err", err)
		b.Degrade(err)
	}

	items, err := b.fallback.Drain(ctx, id)
	if err != nil {
		log.Error("Fallback queue drain failed", "err", err)
		return []relay.QueuedItem{}
	}
	return nonNil(items)
}

func (b *Broker) clear(ctx context.Context, id relay.UserID) {
	log := b.logger.With("user", id.String())

	if b.usingDurable.Load() {
		err := b.durable.Clear(ctx, id)
		if err == nil {
			return
		}
		log.Warn("Durable queue clear failed. Retrying on fallback queue.", "err", err)
		b.Degrade(err)
	}

	if err := b.fallback.Clear(ctx, id); err != nil {
		log.Error("Fallback queue clear failed", "err", err)
	}
}

func nonNil(items []relay.QueuedItem) []relay.QueuedItem {
	if items == nil {
		return []relay.QueuedItem{}
	}
	return items
}
