/*
File: relayservice/relayservice.go
Description: Wires the presence registry, deferred queue, delivery
coordinator, HTTP API and WebSocket connection manager into one service.
*/
package relayservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tinywideclouds/go-presence-relay/internal/api"
	"github.com/tinywideclouds/go-presence-relay/internal/delivery"
	fallback "github.com/tinywideclouds/go-presence-relay/internal/platform/queue"
	"github.com/tinywideclouds/go-presence-relay/internal/queue"
	"github.com/tinywideclouds/go-presence-relay/internal/realtime"
	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
	"github.com/tinywideclouds/go-presence-relay/relayservice/config"
)

// Wrapper runs the relay's HTTP API and owns the components behind it.
type Wrapper struct {
	server      *http.Server
	connManager *realtime.ConnectionManager
	logger      *slog.Logger
	ready       chan struct{}
	addr        net.Addr
}

// New creates and wires up the entire relay service. A nil durable backend
// starts the queue broker in fallback mode.
func New(
	cfg *config.AppConfig,
	deps *relay.ServiceDependencies,
	durable queue.Backend,
	logger *slog.Logger,
) (*Wrapper, error) {
	if deps == nil {
		return nil, fmt.Errorf("dependencies cannot be nil")
	}

	// 1. Core components.
	registry, err := realtime.NewRegistry(deps.Profiles, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence registry: %w", err)
	}

	memory := fallback.NewMemoryBackend(cfg.FallbackQueue.MaxItemsPerUser, cfg.DurableQueue.TTL, logger)
	broker, err := queue.NewBroker(durable, memory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue broker: %w", err)
	}

	coordinator, err := delivery.NewCoordinator(registry, broker, deps.PushNotifier, deps.Profiles, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery coordinator: %w", err)
	}

	// 2. The WebSocket server.
	sessionCfg := realtime.SessionConfig{
		SendBuffer:      cfg.Session.SendBuffer,
		PingInterval:    cfg.Session.PingInterval,
		MaxMessageBytes: cfg.Session.MaxMessageBytes,
	}
	connManager, err := realtime.NewConnectionManager(
		cfg.WebSocketPort,
		deps.Verifier,
		registry,
		coordinator,
		sessionCfg,
		cfg.Cors.AllowedOrigins,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	// 3. The HTTP API.
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(api.NewCORSMiddleware(cfg.Cors.AllowedOrigins))
	apiHandler := api.NewAPI(coordinator, broker, logger.With("component", "API"))
	apiHandler.Routes(router, api.NewAuthMiddleware(deps.Verifier, logger))

	return &Wrapper{
		server: &http.Server{
			Addr:              ":" + cfg.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		connManager: connManager,
		logger:      logger.With("component", "RelayService"),
		ready:       make(chan struct{}),
	}, nil
}

// ConnectionManager returns the WebSocket server, which is run alongside the API.
func (w *Wrapper) ConnectionManager() *realtime.ConnectionManager {
	return w.connManager
}

// Handler returns the API router.
func (w *Wrapper) Handler() http.Handler {
	return w.server.Handler
}

// Ready is closed once the API listener is bound.
func (w *Wrapper) Ready() <-chan struct{} {
	return w.ready
}

// Addr returns the bound API address. It is only valid after Ready is closed.
func (w *Wrapper) Addr() net.Addr {
	return w.addr
}

// Start binds the API listener and serves until Shutdown is called.
func (w *Wrapper) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("HTTP server failed to start: %w", err)
	}
	w.addr = listener.Addr()
	close(w.ready)
	w.logger.Info("HTTP listener is active.", "addr", w.addr.String())

	if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the API server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		return err
	}
	w.logger.Info("All components shut down.")
	return nil
}
