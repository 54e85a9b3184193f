/*
File: internal/realtime/registry.go
Description: The presence registry maps each online user to their live
connection and announces every presence change to all connected users.
*/
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// Registry is the authoritative view of who is online in this process.
// A second registration for the same user replaces the first.
//
// Presence publications go out in the order of the changes they describe.
// publishMu is held across each mutation and its broadcast, except for the
// last-seen write on removal, which happens before the offline broadcast but
// outside publishMu. An offline broadcast whose user changed again in the
// meantime is skipped; the newer change publishes its own state.
type Registry struct {
	publishMu sync.Mutex
	mu        sync.RWMutex
	conns     map[relay.UserID]relay.Connection
	changed   map[relay.UserID]uint64
	seq       uint64
	profiles  relay.ProfileStore
	logger    *slog.Logger
	now       func() time.Time
}

// removal is an offline transition waiting to be published.
type removal struct {
	id       relay.UserID
	seq      uint64
	lastSeen time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(profiles relay.ProfileStore, logger *slog.Logger) (*Registry, error) {
	if profiles == nil {
		return nil, fmt.Errorf("profile store cannot be nil")
	}
	return &Registry{
		conns:    make(map[relay.UserID]relay.Connection),
		changed:  make(map[relay.UserID]uint64),
		profiles: profiles,
		logger:   logger.With("component", "presence_registry"),
		now:      time.Now,
	}, nil
}

// Register marks the connection's user as online and announces it to every
// registered connection, the new one included.
func (r *Registry) Register(_ context.Context, conn relay.Connection) {
	id := conn.UserID()

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	prev, replaced := r.conns[id]
	r.conns[id] = conn
	r.seq++
	r.changed[id] = r.seq
	targets, online := r.snapshotLocked()
	r.mu.Unlock()

	log := r.logger.With("user", id.String(), "conn_id", conn.ID())
	if replaced {
		log.Info("Connection superseded by a newer one", "previous_conn_id", prev.ID())
	} else {
		log.Info("User online")
	}

	r.broadcast(targets, relay.EventUserStatusChanged, relay.StatusChange{UserID: id, IsOnline: true})
	r.broadcast(targets, relay.EventOnlineUsers, relay.OnlineUsers{UserIDs: online})
}

// Deregister marks the user as offline. It records the last-seen time and
// announces the change to the remaining connections. Deregistering a user
// who is not registered does nothing.
func (r *Registry) Deregister(ctx context.Context, id relay.UserID) {
	r.mu.Lock()
	if _, ok := r.conns[id]; !ok {
		r.mu.Unlock()
		return
	}
	rm := r.removeLocked(id)
	r.mu.Unlock()

	r.announceOffline(ctx, rm)
}

// Release deregisters the connection's user only if conn is still the
// registered connection. A superseded connection closing leaves its
// replacement online. It reports whether the user was deregistered.
func (r *Registry) Release(ctx context.Context, conn relay.Connection) bool {
	id := conn.UserID()

	r.mu.Lock()
	current, ok := r.conns[id]
	if !ok || current.ID() != conn.ID() {
		r.mu.Unlock()
		r.logger.Debug("Stale connection closed. Presence unchanged.", "user", id.String(), "conn_id", conn.ID())
		return false
	}
	rm := r.removeLocked(id)
	r.mu.Unlock()

	r.announceOffline(ctx, rm)
	return true
}

// Lookup returns the live connection for a user.
func (r *Registry) Lookup(id relay.UserID) (relay.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Snapshot returns the ids of every online user, sorted.
func (r *Registry) Snapshot() []relay.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, online := r.snapshotLocked()
	return online
}

// removeLocked drops the user and stamps the change. Callers hold r.mu.
func (r *Registry) removeLocked(id relay.UserID) removal {
	delete(r.conns, id)
	r.seq++
	r.changed[id] = r.seq
	return removal{id: id, seq: r.seq, lastSeen: r.now().UTC()}
}

func (r *Registry) announceOffline(ctx context.Context, rm removal) {
	log := r.logger.With("user", rm.id.String())

	if err := r.profiles.RecordLastSeen(ctx, rm.id, rm.lastSeen); err != nil {
		log.Error("Failed to record last seen", "err", err)
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	if r.changed[rm.id] != rm.seq {
		r.mu.Unlock()
		log.Debug("Presence changed again before offline broadcast. Skipping.")
		return
	}
	delete(r.changed, rm.id)
	targets, online := r.snapshotLocked()
	r.mu.Unlock()

	log.Info("User offline")
	lastSeen := rm.lastSeen
	r.broadcast(targets, relay.EventUserStatusChanged, relay.StatusChange{UserID: rm.id, IsOnline: false, LastSeen: &lastSeen})
	r.broadcast(targets, relay.EventOnlineUsers, relay.OnlineUsers{UserIDs: online})
}

// broadcast sends one event to every target. Undeliverable targets are skipped.
func (r *Registry) broadcast(targets []relay.Connection, name string, data any) {
	evt, err := relay.NewEvent(name, data)
	if err != nil {
		r.logger.Error("Failed to build broadcast event", "event", name, "err", err)
		return
	}
	for _, conn := range targets {
		if !conn.Send(evt) {
			r.logger.Warn("Dropped broadcast event for connection", "event", name, "user", conn.UserID().String(), "conn_id", conn.ID())
		}
	}
}

// snapshotLocked copies the current state. Callers hold r.mu.
func (r *Registry) snapshotLocked() ([]relay.Connection, []relay.UserID) {
	targets := make([]relay.Connection, 0, len(r.conns))
	online := make([]relay.UserID, 0, len(r.conns))
	for id, conn := range r.conns {
		targets = append(targets, conn)
		online = append(online, id)
	}
	sort.Slice(online, func(i, j int) bool { return online[i] < online[j] })
	return targets, online
}
