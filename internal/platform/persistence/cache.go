/*
File: internal/platform/persistence/cache.go
Description: An LRU cache of display names in front of any profile store.
Last-seen writes always go through to the wrapped store.
*/
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// DefaultNameCacheSize is used when no cache size is configured.
const DefaultNameCacheSize = 1024

// CachedProfileStore caches display names from an underlying relay.ProfileStore.
type CachedProfileStore struct {
	next   relay.ProfileStore
	names  *lru.Cache[relay.UserID, string]
	logger *slog.Logger
}

// NewCachedProfileStore wraps next with a name cache holding up to size entries.
func NewCachedProfileStore(next relay.ProfileStore, size int, logger *slog.Logger) (*CachedProfileStore, error) {
	if next == nil {
		return nil, fmt.Errorf("profile store cannot be nil")
	}
	if size <= 0 {
		size = DefaultNameCacheSize
	}
	names, err := lru.New[relay.UserID, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}
	return &CachedProfileStore{
		next:   next,
		names:  names,
		logger: logger.With("component", "CachedProfileStore"),
	}, nil
}

// RecordLastSeen delegates to the wrapped store.
func (c *CachedProfileStore) RecordLastSeen(ctx context.Context, id relay.UserID, at time.Time) error {
	return c.next.RecordLastSeen(ctx, id, at)
}

// FetchDisplayName returns a cached name or loads and caches it.
// Lookup failures are not cached.
func (c *CachedProfileStore) FetchDisplayName(ctx context.Context, id relay.UserID) (string, error) {
	if name, ok := c.names.Get(id); ok {
		return name, nil
	}
	name, err := c.next.FetchDisplayName(ctx, id)
	if err != nil {
		return "", err
	}
	c.names.Add(id, name)
	return name, nil
}
