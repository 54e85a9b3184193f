package realtime

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// SessionState is the lifecycle stage of a client connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateRegistered
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when a session is moved out of order.
var ErrInvalidTransition = errors.New("invalid session state transition")

// SessionConfig tunes the per-connection transport.
type SessionConfig struct {
	SendBuffer      int
	PingInterval    time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
}

// DefaultSessionConfig returns the settings used when none are configured.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SendBuffer:      64,
		PingInterval:    30 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

// pongWait is how long the reader waits for any frame before giving up.
func (c SessionConfig) pongWait() time.Duration {
	return c.PingInterval * 2
}

func (c SessionConfig) withDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	return c
}

// Session is one client connection. It implements relay.Connection: Send
// queues onto a bounded buffer drained by a single writer goroutine.
type Session struct {
	id          string
	userID      relay.UserID
	connectedAt time.Time
	state       atomic.Int32
	ws          *websocket.Conn
	send        chan relay.Event
	done        chan struct{}
	closeOnce   sync.Once
	cfg         SessionConfig
	logger      *slog.Logger
}

func newSession(cfg SessionConfig, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:          id,
		connectedAt: time.Now(),
		send:        make(chan relay.Event, cfg.SendBuffer),
		done:        make(chan struct{}),
		cfg:         cfg,
		logger:      logger.With("conn_id", id),
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) UserID() relay.UserID   { return s.userID }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Send queues an event without blocking. It fails once the session is
// closed or when the client is not keeping up.
func (s *Session) Send(evt relay.Event) bool {
	if s.State() == StateClosed {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- evt:
		return true
	default:
		s.logger.Warn("Send buffer full. Dropping event.", "event", evt.Name)
		return false
	}
}

// authenticate binds the verified identity to the session.
func (s *Session) authenticate(id relay.UserID) error {
	if err := s.transition(StateConnecting, StateAuthenticated); err != nil {
		return err
	}
	s.userID = id
	s.logger = s.logger.With("user", id.String())
	return nil
}

// attach hands the upgraded socket to the session and starts the writer.
func (s *Session) attach(ws *websocket.Conn) {
	s.ws = ws
	go s.writePump()
}

func (s *Session) markRegistered() error {
	return s.transition(StateAuthenticated, StateRegistered)
}

// Close moves the session to Closed from any state and releases the socket.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		if s.ws != nil {
			_ = s.ws.Close()
		}
	})
}

func (s *Session) transition(from, to SessionState) error {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		s.logger.Debug("Rejected session transition", "from", s.State().String(), "to", to.String())
		return ErrInvalidTransition
	}
	return nil
}

// writePump owns all writes to the socket.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case evt := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.ws.WriteJSON(evt); err != nil {
				s.logger.Debug("Write failed. Closing session.", "event", evt.Name, "err", err)
				return
			}
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.logger.Debug("Ping failed. Closing session.", "err", err)
				return
			}
		case <-s.done:
			return
		}
	}
}
