/*
File: internal/realtime/connectionmanager.go
Description: Runs the WebSocket server. Each connection is authenticated
before the upgrade, registered in the presence registry, flushed of any
queued messages, and released from the registry when it closes.
*/
// Package realtime provides components for managing real-time client connections.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

const releaseTimeout = 5 * time.Second

// DeliveryHandler is the part of the delivery coordinator a session needs.
type DeliveryHandler interface {
	FlushOnReconnect(ctx context.Context, id relay.UserID, conn relay.Connection)
	RelayTyping(ctx context.Context, from, to relay.UserID, isTyping bool) bool
	RelaySeen(ctx context.Context, reader relay.UserID, messageID string, sender relay.UserID) bool
}

// inboundCommand is a client frame.
type inboundCommand struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ConnectionManager manages all active WebSocket connections.
// It runs its own dedicated HTTP server.
type ConnectionManager struct {
	server         *http.Server
	upgrader       websocket.Upgrader
	verifier       relay.CredentialVerifier
	registry       *Registry
	delivery       DeliveryHandler
	sessions       sync.Map // map[string]*Session
	cfg            SessionConfig
	allowedOrigins []string
	logger         *slog.Logger
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
// An empty allowedOrigins list accepts any origin.
func NewConnectionManager(
	port string,
	verifier relay.CredentialVerifier,
	registry *Registry,
	delivery DeliveryHandler,
	cfg SessionConfig,
	allowedOrigins []string,
	logger *slog.Logger,
) (*ConnectionManager, error) {
	if verifier == nil {
		return nil, fmt.Errorf("credential verifier cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if delivery == nil {
		return nil, fmt.Errorf("delivery handler cannot be nil")
	}

	cm := &ConnectionManager{
		verifier:       verifier,
		registry:       registry,
		delivery:       delivery,
		cfg:            cfg.withDefaults(),
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "ConnectionManager"),
	}
	cm.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     cm.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", cm.connectHandler)
	cm.server = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return cm, nil
}

// Start runs the HTTP server for WebSocket connections.
func (cm *ConnectionManager) Start(_ context.Context) error {
	cm.logger.Info("WebSocket server starting...", "addr", cm.server.Addr)
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler serving /connect.
func (cm *ConnectionManager) Handler() http.Handler {
	return cm.server.Handler
}

// Shutdown stops accepting connections and closes every open session.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info("Shutting down WebSocket service...")
	var finalErr error

	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error("WebSocket server shutdown failed.", "err", err)
		finalErr = err
	}

	cm.sessions.Range(func(_, value any) bool {
		value.(*Session).Close()
		return true
	})

	cm.logger.Info("WebSocket service shut down.")
	return finalErr
}

// connectHandler authenticates, upgrades and serves one client connection.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	session := newSession(cm.cfg, cm.logger)

	userID, err := cm.verifier.Verify(r.Context(), tokenFromRequest(r))
	if err != nil {
		cm.logger.Warn("Rejected connection: authentication failed", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := session.authenticate(userID); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error("Failed to upgrade connection.", "user", userID.String(), "err", err)
		return
	}
	session.attach(ws)
	cm.sessions.Store(session.ID(), session)

	defer func() {
		session.Close()
		cm.sessions.Delete(session.ID())

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		cm.registry.Release(ctx, session)
		cm.logger.Info("User disconnected.", "user", userID.String(), "conn_id", session.ID())
	}()

	ctx := r.Context()
	cm.registry.Register(ctx, session)
	if err := session.markRegistered(); err != nil {
		return
	}
	cm.logger.Info("User connected via WebSocket.", "user", userID.String(), "conn_id", session.ID())

	cm.delivery.FlushOnReconnect(ctx, userID, session)
	cm.readLoop(ctx, session, ws)
}

// readLoop dispatches client commands until the socket fails or closes.
func (cm *ConnectionManager) readLoop(ctx context.Context, session *Session, ws *websocket.Conn) {
	pongWait := cm.cfg.pongWait()
	ws.SetReadLimit(cm.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				session.logger.Debug("Connection closed unexpectedly", "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		// Any frame that does not decode, empty ones included, is ignored.
		var cmd inboundCommand
		if err := json.NewDecoder(frame).Decode(&cmd); err != nil {
			session.logger.Warn("Ignoring malformed client frame", "err", err)
			continue
		}
		cm.dispatch(ctx, session, cmd)
	}
}

func (cm *ConnectionManager) dispatch(ctx context.Context, session *Session, cmd inboundCommand) {
	log := session.logger.With("command", cmd.Event)

	switch cmd.Event {
	case relay.CommandTyping:
		var body relay.TypingCommand
		if err := json.Unmarshal(cmd.Data, &body); err != nil || body.RecipientID == "" {
			log.Warn("Invalid typing command", "err", err)
			return
		}
		cm.delivery.RelayTyping(ctx, session.UserID(), body.RecipientID, body.IsTyping)

	case relay.CommandMessageSeen:
		var body relay.SeenCommand
		if err := json.Unmarshal(cmd.Data, &body); err != nil || body.SenderID == "" {
			log.Warn("Invalid messageSeen command", "err", err)
			return
		}
		cm.delivery.RelaySeen(ctx, session.UserID(), body.MessageID, body.SenderID)

	case relay.CommandUserOnline:
		cm.delivery.FlushOnReconnect(ctx, session.UserID(), session)

	case relay.CommandGetOnlineUsers:
		evt, err := relay.NewEvent(relay.EventOnlineUsers, relay.OnlineUsers{UserIDs: cm.registry.Snapshot()})
		if err != nil {
			log.Error("Failed to build online users event", "err", err)
			return
		}
		session.Send(evt)

	default:
		log.Warn("Ignoring unknown command")
	}
}

func (cm *ConnectionManager) checkOrigin(r *http.Request) bool {
	if len(cm.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(cm.allowedOrigins, origin)
}

// tokenFromRequest reads the credential from the `token` query parameter or
// an `Authorization: Bearer` header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
