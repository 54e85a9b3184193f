package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// redisTestFixture holds resources for testing the redis backend.
type redisTestFixture struct {
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	backend *RedisBackend
}

func setupRedis(t *testing.T) *redisTestFixture {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	backend, err := NewRedisBackend(rdb, "", 0, newTestLogger())
	require.NoError(t, err)

	return &redisTestFixture{mr: mr, rdb: rdb, backend: backend}
}

func TestNewRedisBackend_NilClient(t *testing.T) {
	_, err := NewRedisBackend(nil, "", 0, newTestLogger())
	assert.Error(t, err)
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	alice := relay.UserID("alice")

	t.Run("Enqueue then Drain preserves order", func(t *testing.T) {
		// Arrange
		fx := setupRedis(t)
		queuedAt := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			it := item(alice, fmt.Sprint(i))
			it.QueuedAt = queuedAt
			require.NoError(t, fx.backend.Enqueue(ctx, it))
		}

		// Act
		got, err := fx.backend.Drain(ctx, alice)

		// Assert
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, it := range got {
			assert.Equal(t, fmt.Sprint(i), it.ID)
			assert.Equal(t, alice, it.RecipientID)
			assert.True(t, queuedAt.Equal(it.QueuedAt))
		}
	})

	t.Run("Enqueue uses the user_queue key and sets a 24h ttl", func(t *testing.T) {
		fx := setupRedis(t)

		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "a")))

		assert.True(t, fx.mr.Exists("user_queue:alice"))
		assert.Equal(t, 24*time.Hour, fx.mr.TTL("user_queue:alice"))
	})

	t.Run("Every enqueue refreshes the ttl", func(t *testing.T) {
		// Arrange
		fx := setupRedis(t)
		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "a")))
		fx.mr.FastForward(20 * time.Hour)

		// Act
		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "b")))
		fx.mr.FastForward(20 * time.Hour)

		// Assert
		got, err := fx.backend.Drain(ctx, alice)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("Queue expires after ttl", func(t *testing.T) {
		fx := setupRedis(t)
		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "a")))

		fx.mr.FastForward(24*time.Hour + time.Second)

		got, err := fx.backend.Drain(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Drain skips poison items", func(t *testing.T) {
		fx := setupRedis(t)
		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "good")))
		_, err := fx.mr.Push("user_queue:alice", "not-json")
		require.NoError(t, err)

		got, err := fx.backend.Drain(ctx, alice)

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "good", got[0].ID)
	})

	t.Run("Clear removes the queue and is idempotent", func(t *testing.T) {
		fx := setupRedis(t)
		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "a")))

		require.NoError(t, fx.backend.Clear(ctx, alice))
		require.NoError(t, fx.backend.Clear(ctx, alice))

		assert.False(t, fx.mr.Exists("user_queue:alice"))
	})

	t.Run("Stats reports lengths per user", func(t *testing.T) {
		// Arrange
		fx := setupRedis(t)
		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "a")))
		require.NoError(t, fx.backend.Enqueue(ctx, item(alice, "b")))
		require.NoError(t, fx.backend.Enqueue(ctx, item("bob", "c")))
		require.NoError(t, fx.mr.Set("unrelated", "x"))

		// Act
		stats, err := fx.backend.Stats(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, map[relay.UserID]int{alice: 2, "bob": 1}, stats)
	})

	t.Run("Server errors surface", func(t *testing.T) {
		fx := setupRedis(t)
		fx.mr.SetError("ERR redis unavailable")

		assert.Error(t, fx.backend.Enqueue(ctx, item(alice, "a")))
		_, err := fx.backend.Drain(ctx, alice)
		assert.Error(t, err)
		assert.Error(t, fx.backend.Clear(ctx, alice))
		_, err = fx.backend.Stats(ctx)
		assert.Error(t, err)
	})
}
