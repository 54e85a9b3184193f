// Package app contains the shared, reusable logic for starting and stopping the service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long services get to stop gracefully.
const ShutdownTimeout = 15 * time.Second

// Service is a long-running component with a graceful shutdown.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Named pairs a service with the name used in logs.
type Named struct {
	Name    string
	Service Service
}

// Run starts every service, waits for an OS signal, a cancelled context or
// the first service failure, and then shuts all of them down in order.
func Run(ctx context.Context, logger *slog.Logger, services ...Named) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range services {
		g.Go(func() error {
			logger.Info("Starting service...", "service_name", s.Name)
			if err := s.Service.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Service failed", "service_name", s.Name, "err", err)
				return fmt.Errorf("%s: %w", s.Name, err)
			}
			return nil
		})
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("Received shutdown signal.")
	} else {
		logger.Info("A service stopped, initiating shutdown.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, s := range services {
		logger.Info("Shutting down service...", "service_name", s.Name)
		if err := s.Service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Service shutdown failed.", "service_name", s.Name, "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}

	runErr := g.Wait()
	logger.Info("All services shut down.")
	return errors.Join(runErr, shutdownErr)
}
