package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-relay/internal/app"
)

// blockingService runs until Shutdown is called, or fails at once if startErr is set.
type blockingService struct {
	mu          sync.Mutex
	startErr    error
	shutdownErr error
	stopped     chan struct{}
	once        sync.Once
	shutdowns   int
}

func newBlockingService() *blockingService {
	return &blockingService{stopped: make(chan struct{})}
}

func (s *blockingService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	select {
	case <-s.stopped:
	case <-ctx.Done():
	}
	return nil
}

func (s *blockingService) Shutdown(context.Context) error {
	s.mu.Lock()
	s.shutdowns++
	s.mu.Unlock()
	s.once.Do(func() { close(s.stopped) })
	return s.shutdownErr
}

func (s *blockingService) shutdownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdowns
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_ContextCancelShutsDownAll(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	api := newBlockingService()
	ws := newBlockingService()
	done := make(chan error, 1)

	// Act
	go func() {
		done <- app.Run(ctx, newTestLogger(), app.Named{Name: "api", Service: api}, app.Named{Name: "ws", Service: ws})
	}()
	cancel()

	// Assert
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, api.shutdownCount())
	assert.Equal(t, 1, ws.shutdownCount())
}

func TestRun_ServiceFailureStopsTheOthers(t *testing.T) {
	// Arrange
	failing := newBlockingService()
	failing.startErr = errors.New("port in use")
	healthy := newBlockingService()

	// Act
	err := app.Run(context.Background(), newTestLogger(),
		app.Named{Name: "api", Service: failing},
		app.Named{Name: "ws", Service: healthy},
	)

	// Assert
	require.Error(t, err)
	assert.ErrorContains(t, err, "api: port in use")
	assert.Equal(t, 1, healthy.shutdownCount())
}

func TestRun_ShutdownErrorsAreReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := newBlockingService()
	svc.shutdownErr = errors.New("drain timeout")

	err := app.Run(ctx, newTestLogger(), app.Named{Name: "api", Service: svc})

	assert.ErrorContains(t, err, "drain timeout")
}
