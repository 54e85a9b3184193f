// --- File: internal/platform/queue/backend_redis.go ---
// Package queue contains the concrete queue backends used by the broker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

const (
	// DefaultKeyPrefix is prepended to the user id to form the list key.
	DefaultKeyPrefix = "user_queue:"
	// DefaultTTL is how long an untouched queue survives.
	DefaultTTL = 24 * time.Hour

	scanBatch = 100
)

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisBackend is the durable queue backend. Each user has one list,
// `user_queue:{id}`, appended on the right so a full range read returns the
// oldest item first. Every enqueue refreshes the list's TTL.
type RedisBackend struct {
	client    redisClient
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewRedisBackend is the constructor for the RedisBackend.
// Empty prefix and zero ttl fall back to the defaults.
func NewRedisBackend(client redisClient, keyPrefix string, ttl time.Duration, logger *slog.Logger) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With("component", "redis_queue"),
	}, nil
}

// Enqueue appends the item to the tail of the user's list and refreshes the TTL.
func (s *RedisBackend) Enqueue(ctx context.Context, item relay.QueuedItem) error {
	log := s.logger.With("user", item.RecipientID.String())

	payload, err := json.Marshal(item)
	if err != nil {
		log.Error("Failed to marshal queued item", "err", err)
		return fmt.Errorf("failed to marshal queued item: %w", err)
	}

	key := s.userQueueKey(item.RecipientID)
	log.Debug("Enqueuing item", "key", key, "item_id", item.ID)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		log.Error("Failed to rpush to queue", "key", key, "err", err)
		return fmt.Errorf("failed to rpush to queue: %w", err)
	}
	return nil
}

// Drain reads the whole list without modifying it.
func (s *RedisBackend) Drain(ctx context.Context, id relay.UserID) ([]relay.QueuedItem, error) {
	log := s.logger.With("user", id.String())
	key := s.userQueueKey(id)

	payloads, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		log.Error("Failed to read queue", "key", key, "err", err)
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	items := make([]relay.QueuedItem, 0, len(payloads))
	for _, payload := range payloads {
		var item relay.QueuedItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			log.Warn("Skipping poison item in queue", "key", key, "err", err)
			continue
		}
		items = append(items, item)
	}

	log.Debug("Drained queue", "count", len(items))
	return items, nil
}

// Clear deletes the user's list.
func (s *RedisBackend) Clear(ctx context.Context, id relay.UserID) error {
	key := s.userQueueKey(id)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("Failed to delete queue", "key", key, "err", err)
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	return nil
}

// Stats walks every queue key with SCAN and reports each list's length.
func (s *RedisBackend) Stats(ctx context.Context) (map[relay.UserID]int, error) {
	stats := make(map[relay.UserID]int)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue keys: %w", err)
		}
		for _, key := range keys {
			n, err := s.client.LLen(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read length of %s: %w", key, err)
			}
			if n > 0 {
				stats[relay.UserID(strings.TrimPrefix(key, s.keyPrefix))] = int(n)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats, nil
}

// --- Private Helpers ---

func (s *RedisBackend) userQueueKey(id relay.UserID) string { return s.keyPrefix + id.String() }
