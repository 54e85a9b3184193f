/*
File: internal/platform/persistence/firestore.go
Description: Firestore implementation of the relay's profile store. Each user
is a document keyed by their id holding a display name and the time they
were last seen online.
*/
// Package persistence contains components for interacting with data stores.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// DefaultUsersCollection is used when no collection is configured.
const DefaultUsersCollection = "users"

const (
	fieldName     = "name"
	fieldLastSeen = "lastSeen"
)

// FirestoreProfileStore implements relay.ProfileStore using Google Cloud Firestore.
type FirestoreProfileStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

// NewFirestoreProfileStore is the constructor for the FirestoreProfileStore.
func NewFirestoreProfileStore(client *firestore.Client, collection string, logger *slog.Logger) (*FirestoreProfileStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if collection == "" {
		collection = DefaultUsersCollection
	}
	return &FirestoreProfileStore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreProfileStore", "collection", collection),
	}, nil
}

// RecordLastSeen merges the lastSeen field into the user's document,
// creating the document if it does not exist.
func (s *FirestoreProfileStore) RecordLastSeen(ctx context.Context, id relay.UserID, at time.Time) error {
	doc := s.client.Collection(s.collection).Doc(id.String())
	_, err := doc.Set(ctx, map[string]any{fieldLastSeen: at.UTC()}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to record last seen for %s: %w", id, err)
	}
	s.logger.Debug("Recorded last seen", "user", id.String())
	return nil
}

// FetchDisplayName reads the name field of the user's document.
func (s *FirestoreProfileStore) FetchDisplayName(ctx context.Context, id relay.UserID) (string, error) {
	snap, err := s.client.Collection(s.collection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("user %s: %w", id, relay.ErrProfileNotFound)
		}
		return "", fmt.Errorf("failed to fetch profile for %s: %w", id, err)
	}

	raw, err := snap.DataAt(fieldName)
	if err != nil {
		return "", fmt.Errorf("user %s has no name: %w", id, relay.ErrProfileNotFound)
	}
	name, ok := raw.(string)
	if !ok || name == "" {
		return "", fmt.Errorf("user %s has no name: %w", id, relay.ErrProfileNotFound)
	}
	return name, nil
}
