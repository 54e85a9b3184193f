/*
File: pkg/relay/interfaces_relay.go
Description: Contracts for the external collaborators the relay depends on.
Concrete adapters live under internal/platform.
*/
package relay

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthenticated is returned when a presented credential cannot be verified.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrProfileNotFound is returned when no profile exists for a user.
	ErrProfileNotFound = errors.New("profile not found")
)

// CredentialVerifier resolves a presented token to a user identity.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (UserID, error)
}

// ProfileStore is the user-profile collaborator.
type ProfileStore interface {
	// RecordLastSeen persists the moment a user went offline.
	RecordLastSeen(ctx context.Context, id UserID, at time.Time) error
	// FetchDisplayName returns the name shown to other users.
	FetchDisplayName(ctx context.Context, id UserID) (string, error)
}

// PushNotifier sends a push notification to a user who is not connected.
type PushNotifier interface {
	SendOfflineNotification(ctx context.Context, recipient UserID, summary NotificationSummary) error
}
