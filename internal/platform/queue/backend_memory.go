package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// DefaultMaxItemsPerUser bounds each user's in-process queue.
const DefaultMaxItemsPerUser = 100

// MemoryBackend is the in-process fallback queue. Each user's queue holds at
// most maxItems entries; when full, the oldest entry is evicted. A queue
// expires ttl after its last enqueue, matching the Redis key TTL.
// Contents are lost on restart.
type MemoryBackend struct {
	mu       sync.Mutex
	queues   map[relay.UserID]*memoryQueue
	maxItems int
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type memoryQueue struct {
	items     []relay.QueuedItem
	expiresAt time.Time
}

// NewMemoryBackend creates the fallback queue. Non-positive values use the defaults.
func NewMemoryBackend(maxItems int, ttl time.Duration, logger *slog.Logger) *MemoryBackend {
	if maxItems <= 0 {
		maxItems = DefaultMaxItemsPerUser
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBackend{
		queues:   make(map[relay.UserID]*memoryQueue),
		maxItems: maxItems,
		ttl:      ttl,
		logger:   logger.With("component", "memory_queue"),
		now:      time.Now,
	}
}

func (m *MemoryBackend) Enqueue(_ context.Context, item relay.QueuedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	q := m.get(item.RecipientID, now)
	if q == nil {
		q = &memoryQueue{}
		m.queues[item.RecipientID] = q
	}

	q.items = append(q.items, item)
	if over := len(q.items) - m.maxItems; over > 0 {
		m.logger.Warn("Fallback queue full. Evicting oldest items.", "user", item.RecipientID.String(), "evicted", over)
		q.items = append([]relay.QueuedItem(nil), q.items[over:]...)
	}
	q.expiresAt = now.Add(m.ttl)
	return nil
}

func (m *MemoryBackend) Drain(_ context.Context, id relay.UserID) ([]relay.QueuedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.get(id, m.now())
	if q == nil {
		return []relay.QueuedItem{}, nil
	}
	return append([]relay.QueuedItem(nil), q.items...), nil
}

func (m *MemoryBackend) Clear(_ context.Context, id relay.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, id)
	return nil
}

func (m *MemoryBackend) Stats(_ context.Context) (map[relay.UserID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := make(map[relay.UserID]int, len(m.queues))
	for id := range m.queues {
		if q := m.get(id, now); q != nil && len(q.items) > 0 {
			stats[id] = len(q.items)
		}
	}
	return stats, nil
}

// get returns the user's queue, dropping it if expired. Callers hold m.mu.
func (m *MemoryBackend) get(id relay.UserID, now time.Time) *memoryQueue {
	q, ok := m.queues[id]
	if !ok {
		return nil
	}
	if !now.Before(q.expiresAt) {
		delete(m.queues, id)
		return nil
	}
	return q
}
