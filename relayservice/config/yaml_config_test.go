// --- File: relayservice/config/yaml_config_test.go ---
package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-relay/relayservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testYaml = `
project_id: yaml-project
run_mode: local
api_port: "8080"
websocket_port: "8081"
cors:
  allowed_origins:
    - http://yaml-origin.com
durable_queue:
  redis:
    addr: yaml-redis:6379
  key_prefix: "q:"
  ttl: 12h
fallback_queue:
  max_items_per_user: 50
profile_store:
  type: firestore
  firestore:
    collection: yaml-users
  cache_size: 256
push_notifications_topic_id: yaml-push-topic
session:
  send_buffer: 32
  ping_interval: 20s
  max_message_bytes: 4096
`

func TestParseYamlAndNewConfigFromYaml(t *testing.T) {
	t.Run("Success - maps all fields correctly from YAML", func(t *testing.T) {
		// Arrange
		yamlCfg, err := config.ParseYaml([]byte(testYaml))
		require.NoError(t, err)

		// Act
		cfg, err := config.NewConfigFromYaml(yamlCfg, newTestLogger())

		// Assert
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, config.RunModeLocal, cfg.RunMode)
		assert.Equal(t, "8080", cfg.APIPort)
		assert.Equal(t, "8081", cfg.WebSocketPort)
		assert.Equal(t, []string{"http://yaml-origin.com"}, cfg.Cors.AllowedOrigins)
		assert.Equal(t, "yaml-redis:6379", cfg.DurableQueue.RedisAddr)
		assert.Equal(t, "q:", cfg.DurableQueue.KeyPrefix)
		assert.Equal(t, 12*time.Hour, cfg.DurableQueue.TTL)
		assert.Equal(t, 50, cfg.FallbackQueue.MaxItemsPerUser)
		assert.Equal(t, "firestore", cfg.ProfileStore.Type)
		assert.Equal(t, "yaml-users", cfg.ProfileStore.Collection)
		assert.Equal(t, 256, cfg.ProfileStore.CacheSize)
		assert.Equal(t, "yaml-push-topic", cfg.PushNotificationsTopicID)
		assert.Equal(t, 32, cfg.Session.SendBuffer)
		assert.Equal(t, 20*time.Second, cfg.Session.PingInterval)
		assert.Equal(t, int64(4096), cfg.Session.MaxMessageBytes)
	})

	t.Run("Success - run mode defaults to prod", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{}, newTestLogger())

		require.NoError(t, err)
		assert.Equal(t, config.RunModeProd, cfg.RunMode)
	})

	t.Run("Failure - invalid YAML", func(t *testing.T) {
		_, err := config.ParseYaml([]byte("project_id: [unclosed"))
		assert.Error(t, err)
	})
}
