package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-relay/internal/platform/persistence"
	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockProfileStore struct {
	mock.Mock
}

func (m *mockProfileStore) RecordLastSeen(ctx context.Context, id relay.UserID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *mockProfileStore) FetchDisplayName(ctx context.Context, id relay.UserID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// --- Tests ---

func TestNewCachedProfileStore_NilStore(t *testing.T) {
	_, err := persistence.NewCachedProfileStore(nil, 10, newTestLogger())
	assert.Error(t, err)
}

func TestCachedProfileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Names are loaded once", func(t *testing.T) {
		// Arrange
		next := new(mockProfileStore)
		next.On("FetchDisplayName", ctx, relay.UserID("alice")).Return("Alice", nil).Once()
		store, err := persistence.NewCachedProfileStore(next, 10, newTestLogger())
		require.NoError(t, err)

		// Act
		first, err1 := store.FetchDisplayName(ctx, "alice")
		second, err2 := store.FetchDisplayName(ctx, "alice")

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, "Alice", first)
		assert.Equal(t, "Alice", second)
		next.AssertExpectations(t)
	})

	t.Run("Failures are not cached", func(t *testing.T) {
		// Arrange
		next := new(mockProfileStore)
		next.On("FetchDisplayName", ctx, relay.UserID("bob")).
			Return("", fmt.Errorf("user bob: %w", relay.ErrProfileNotFound)).Twice()
		store, err := persistence.NewCachedProfileStore(next, 10, newTestLogger())
		require.NoError(t, err)

		// Act
		_, err1 := store.FetchDisplayName(ctx, "bob")
		_, err2 := store.FetchDisplayName(ctx, "bob")

		// Assert
		assert.ErrorIs(t, err1, relay.ErrProfileNotFound)
		assert.ErrorIs(t, err2, relay.ErrProfileNotFound)
		next.AssertExpectations(t)
	})

	t.Run("Least recently used names are evicted", func(t *testing.T) {
		// Arrange
		next := new(mockProfileStore)
		next.On("FetchDisplayName", ctx, relay.UserID("alice")).Return("Alice", nil).Twice()
		next.On("FetchDisplayName", ctx, relay.UserID("bob")).Return("Bob", nil).Once()
		store, err := persistence.NewCachedProfileStore(next, 1, newTestLogger())
		require.NoError(t, err)

		// Act
		_, _ = store.FetchDisplayName(ctx, "alice")
		_, _ = store.FetchDisplayName(ctx, "bob")
		name, err := store.FetchDisplayName(ctx, "alice")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
		next.AssertExpectations(t)
	})

	t.Run("RecordLastSeen passes through", func(t *testing.T) {
		at := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
		next := new(mockProfileStore)
		next.On("RecordLastSeen", ctx, relay.UserID("alice"), at).Return(errors.New("write failed"))
		store, err := persistence.NewCachedProfileStore(next, 0, newTestLogger())
		require.NoError(t, err)

		err = store.RecordLastSeen(ctx, "alice", at)

		assert.EqualError(t, err, "write failed")
		next.AssertExpectations(t)
	})
}
