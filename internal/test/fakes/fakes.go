// Package fakes provides in-memory test doubles (fakes) for the service's
// collaborators. These are used by the local run mode and in tests.
package fakes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// --- Connection ---

// Connection records every event sent to it.
type Connection struct {
	mu          sync.Mutex
	id          string
	userID      relay.UserID
	connectedAt time.Time
	rejecting   bool
	events      []relay.Event
}

func NewConnection(userID relay.UserID) *Connection {
	return &Connection{
		id:          uuid.NewString(),
		userID:      userID,
		connectedAt: time.Now(),
	}
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) UserID() relay.UserID   { return c.userID }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) Send(evt relay.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejecting {
		return false
	}
	c.events = append(c.events, evt)
	return true
}

// Reject makes every later Send fail, as a closing connection would.
func (c *Connection) Reject() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejecting = true
}

// Events returns a copy of everything received so far.
func (c *Connection) Events() []relay.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]relay.Event(nil), c.events...)
}

// EventsNamed returns received events with the given name, in order.
func (c *Connection) EventsNamed(name string) []relay.Event {
	var out []relay.Event
	for _, evt := range c.Events() {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

// Reset forgets received events.
func (c *Connection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// --- Profiles ---

// ProfileStore keeps display names and last-seen times in memory.
type ProfileStore struct {
	mu       sync.Mutex
	names    map[relay.UserID]string
	lastSeen map[relay.UserID]time.Time
	err      error
}

func NewProfileStore(names map[relay.UserID]string) *ProfileStore {
	if names == nil {
		names = make(map[relay.UserID]string)
	}
	return &ProfileStore{names: names, lastSeen: make(map[relay.UserID]time.Time)}
}

// FailWith makes every later call return err.
func (p *ProfileStore) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *ProfileStore) RecordLastSeen(_ context.Context, id relay.UserID, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.lastSeen[id] = at
	return nil
}

func (p *ProfileStore) FetchDisplayName(_ context.Context, id relay.UserID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	name, ok := p.names[id]
	if !ok {
		return "", relay.ErrProfileNotFound
	}
	return name, nil
}

// LastSeen returns the recorded last-seen time for a user.
func (p *ProfileStore) LastSeen(id relay.UserID) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.lastSeen[id]
	return at, ok
}

// --- Notifications ---

// SentNotification is one recorded push notification.
type SentNotification struct {
	Recipient relay.UserID
	Summary   relay.NotificationSummary
}

// PushNotifier records notifications and logs them.
type PushNotifier struct {
	mu     sync.Mutex
	sent   []SentNotification
	err    error
	logger *slog.Logger
}

func NewPushNotifier(logger *slog.Logger) *PushNotifier {
	return &PushNotifier{logger: logger.With("component", "FakePushNotifier")}
}

// FailWith makes every later call return err.
func (n *PushNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *PushNotifier) SendOfflineNotification(_ context.Context, recipient relay.UserID, summary relay.NotificationSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger.Info("[FAKES-PUSH] Offline notification", "recipient", recipient.String(), "title", summary.Title, "body", summary.Body)
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, SentNotification{Recipient: recipient, Summary: summary})
	return nil
}

// Sent returns a copy of every recorded notification.
func (n *PushNotifier) Sent() []SentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentNotification(nil), n.sent...)
}

// --- Identity ---

// Verifier accepts a fixed set of tokens. With no tokens configured it
// treats the token itself as the user id, which is handy for local runs.
type Verifier struct {
	tokens map[string]relay.UserID
}

func NewVerifier(tokens map[string]relay.UserID) *Verifier {
	return &Verifier{tokens: tokens}
}

func (v *Verifier) Verify(_ context.Context, token string) (relay.UserID, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", relay.ErrUnauthenticated)
	}
	if len(v.tokens) == 0 {
		return relay.UserID(token), nil
	}
	id, ok := v.tokens[token]
	if !ok {
		return "", fmt.Errorf("%w: unknown token", relay.ErrUnauthenticated)
	}
	return id, nil
}
