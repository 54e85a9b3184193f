// --- File: relayservice/relayservice_test.go ---
package relayservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-relay/internal/platform/queue"
	"github.com/tinywideclouds/go-presence-relay/internal/test/fakes"
	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
	"github.com/tinywideclouds/go-presence-relay/relayservice"
	"github.com/tinywideclouds/go-presence-relay/relayservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFixture runs the wired service behind two httptest servers.
type testFixture struct {
	service  *relayservice.Wrapper
	notifier *fakes.PushNotifier
	apiURL   string
	wsURL    string
}

func setup(t *testing.T) *testFixture {
	t.Helper()
	logger := newTestLogger()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	durable, err := queue.NewRedisBackend(rdb, "", 0, logger)
	require.NoError(t, err)

	notifier := fakes.NewPushNotifier(logger)
	deps := &relay.ServiceDependencies{
		Verifier:     fakes.NewVerifier(nil),
		Profiles:     fakes.NewProfileStore(map[relay.UserID]string{"alice": "Alice", "bob": "Bob"}),
		PushNotifier: notifier,
	}
	cfg := &config.AppConfig{RunMode: config.RunModeLocal, APIPort: "0", WebSocketPort: "0"}

	service, err := relayservice.New(cfg, deps, durable, logger)
	require.NoError(t, err)

	apiServer := httptest.NewServer(service.Handler())
	t.Cleanup(apiServer.Close)
	wsServer := httptest.NewServer(service.ConnectionManager().Handler())
	t.Cleanup(wsServer.Close)

	return &testFixture{
		service:  service,
		notifier: notifier,
		apiURL:   apiServer.URL,
		wsURL:    "ws" + strings.TrimPrefix(wsServer.URL, "http") + "/connect?token=",
	}
}

func (fx *testFixture) call(t *testing.T, method, path, token string, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, fx.apiURL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func readUntil(t *testing.T, conn *websocket.Conn, name string) relay.Event {
	t.Helper()
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var evt relay.Event
		require.NoError(t, conn.ReadJSON(&evt))
		if evt.Name == name {
			return evt
		}
	}
	t.Fatalf("no %s event received", name)
	return relay.Event{}
}

func TestNew_NilDependencies(t *testing.T) {
	_, err := relayservice.New(&config.AppConfig{}, nil, nil, newTestLogger())
	assert.Error(t, err)
}

func TestRelayService_OfflineMessageIsFlushedOnConnect(t *testing.T) {
	fx := setup(t)

	// --- 1. Alice sends while Bob is offline ---
	code, body := fx.call(t, http.MethodPost, "/api/messages/bob", "alice", `{"id":"m1","payload":"secret","encrypted":true}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"id":"m1","outcome":"deferred"}`, string(body))
	require.Len(t, fx.notifier.Sent(), 1)

	code, body = fx.call(t, http.MethodGet, "/api/queue/stats", "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"usingDurable":true,"queues":{"bob":1}}`, string(body))

	// --- 2. Bob connects and receives the queued message ---
	conn, _, err := websocket.DefaultDialer.Dial(fx.wsURL+"bob", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	evt := readUntil(t, conn, relay.EventQueuedMessages)
	var batch relay.QueuedMessages
	require.NoError(t, json.Unmarshal(evt.Data, &batch))
	require.Len(t, batch.Items, 1)
	var msg relay.NewMessage
	require.NoError(t, json.Unmarshal(batch.Items[0].Payload, &msg))
	assert.Equal(t, "m1", msg.Message.ID)
	assert.Equal(t, "Alice", msg.Sender.Name)

	// --- 3. The queue is empty and Bob is online ---
	require.Eventually(t, func() bool {
		_, body := fx.call(t, http.MethodGet, "/api/queue/stats", "alice", "")
		return string(bytes.TrimSpace(body)) == `{"usingDurable":true,"queues":{}}`
	}, 2*time.Second, 10*time.Millisecond)

	code, body = fx.call(t, http.MethodGet, "/api/presence", "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"userIds":["bob"]}`, string(body))

	// --- 4. A live message goes straight to the socket ---
	code, body = fx.call(t, http.MethodPost, "/api/messages/bob", "alice", `{"id":"m2","payload":"hi"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"id":"m2","outcome":"live"}`, string(body))
	readUntil(t, conn, relay.EventNewMessage)
}

func TestRelayService_StartAndShutdown(t *testing.T) {
	fx := setup(t)
	errCh := make(chan error, 1)

	go func() { errCh <- fx.service.Start(context.Background()) }()

	select {
	case <-fx.service.Ready():
	case err := <-errCh:
		t.Fatalf("service failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not become ready")
	}

	resp, err := http.Get("http://" + fx.service.Addr().String() + "/api/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fx.service.Shutdown(ctx))
	require.NoError(t, <-errCh)
}
