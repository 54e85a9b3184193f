/*
File: internal/api/relay_handlers.go
Description: Defines the HTTP handlers for the relay API: sending a message,
reading presence, broadcasting to contacts and inspecting the queues.
*/
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-presence-relay/internal/delivery"
	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// Deliverer is the part of the delivery coordinator the API drives.
type Deliverer interface {
	Deliver(ctx context.Context, sender, recipient relay.UserID, env relay.Envelope) delivery.Outcome
	BroadcastToContacts(ctx context.Context, from relay.UserID, contacts []relay.UserID, name string, data json.RawMessage) int
	OnlineUsers() []relay.UserID
}

// QueueInspector reports the state of the deferred queues.
type QueueInspector interface {
	UsingDurable() bool
	Stats(ctx context.Context) map[relay.UserID]int
}

type sendRequest struct {
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Encrypted bool            `json:"encrypted"`
	HasMedia  bool            `json:"hasMedia"`
}

type sendResponse struct {
	ID      string           `json:"id"`
	Outcome delivery.Outcome `json:"outcome"`
}

type broadcastRequest struct {
	Recipients []relay.UserID  `json:"recipients"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
}

type broadcastResponse struct {
	Delivered int `json:"delivered"`
}

type queueStatsResponse struct {
	UsingDurable bool                 `json:"usingDurable"`
	Queues       map[relay.UserID]int `json:"queues"`
}

// API holds the dependencies for the HTTP handlers.
type API struct {
	deliverer Deliverer
	queues    QueueInspector
	logger    *slog.Logger
}

// NewAPI creates a new API handler.
func NewAPI(deliverer Deliverer, queues QueueInspector, logger *slog.Logger) *API {
	return &API{
		deliverer: deliverer,
		queues:    queues,
		logger:    logger,
	}
}

// Routes mounts the handlers on r. The auth middleware guards every route
// except the status check.
func (a *API) Routes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/api/status", a.StatusHandler)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/api/messages/{recipientID}", a.SendHandler)
		r.Get("/api/presence", a.PresenceHandler)
		r.Post("/api/broadcast", a.BroadcastHandler)
		r.Get("/api/queue/stats", a.QueueStatsHandler)
	})
}

// StatusHandler reports liveness.
func (a *API) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Relay server is running"))
}

// SendHandler hands a message to the delivery coordinator.
func (a *API) SendHandler(w http.ResponseWriter, r *http.Request) {
	sender, ok := UserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn("SendHandler: No user ID in context")
		WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	recipient := relay.UserID(chi.URLParam(r, "recipientID"))
	log := a.logger.With("user", sender.String(), "recipient", recipient.String())

	var body sendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Warn("Failed to decode message body", "err", err)
		WriteJSONError(w, http.StatusBadRequest, "invalid message format")
		return
	}
	if len(body.Payload) == 0 {
		WriteJSONError(w, http.StatusBadRequest, "payload is required")
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	outcome := a.deliverer.Deliver(r.Context(), sender, recipient, relay.Envelope{
		ID:        body.ID,
		Payload:   body.Payload,
		Encrypted: body.Encrypted,
		HasMedia:  body.HasMedia,
	})
	if outcome == delivery.OutcomeDropped {
		WriteJSONError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	log.Debug("Message accepted", "msg_id", body.ID, "outcome", outcome)
	WriteJSON(w, http.StatusAccepted, sendResponse{ID: body.ID, Outcome: outcome})
}

// PresenceHandler lists every connected user.
func (a *API) PresenceHandler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, relay.OnlineUsers{UserIDs: a.deliverer.OnlineUsers()})
}

// BroadcastHandler sends an ephemeral event to the caller's online contacts.
func (a *API) BroadcastHandler(w http.ResponseWriter, r *http.Request) {
	sender, ok := UserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn("BroadcastHandler: No user ID in context")
		WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	var body broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.logger.Warn("Failed to decode broadcast body", "user", sender.String(), "err", err)
		WriteJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Event == "" {
		WriteJSONError(w, http.StatusBadRequest, "event is required")
		return
	}

	n := a.deliverer.BroadcastToContacts(r.Context(), sender, body.Recipients, body.Event, body.Data)
	WriteJSON(w, http.StatusOK, broadcastResponse{Delivered: n})
}

// QueueStatsHandler reports which backend is active and the queue lengths.
func (a *API) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, queueStatsResponse{
		UsingDurable: a.queues.UsingDurable(),
		Queues:       a.queues.Stats(r.Context()),
	})
}
