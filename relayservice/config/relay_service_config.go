// --- File: relayservice/config/relay_service_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	// RunModeProd wires Redis, Firestore, Pub/Sub and JWT verification.
	RunModeProd = "prod"
	// RunModeLocal wires in-memory collaborators only.
	RunModeLocal = "local"
)

type DurableQueueConfig struct {
	RedisAddr string
	KeyPrefix string
	TTL       time.Duration
}

type FallbackQueueConfig struct {
	MaxItemsPerUser int
}

type ProfileStoreConfig struct {
	Type       string
	Collection string
	CacheSize  int
}

type SessionConfig struct {
	SendBuffer      int
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// AppConfig is the canonical, validated configuration object used throughout the application.
// It is created by NewConfigFromYaml (Stage 1) and finalized by
// UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID                string
	RunMode                  string
	APIPort                  string
	WebSocketPort            string
	JWTSecret                string
	Cors                     YamlCorsConfig
	DurableQueue             DurableQueueConfig
	FallbackQueue            FallbackQueueConfig
	ProfileStore             ProfileStoreConfig
	PushNotificationsTopicID string
	Session                  SessionConfig
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
// This function completes "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		logger.Debug("Overriding config value", "key", "GCP_PROJECT_ID", "source", "env")
		cfg.ProjectID = projectID
	}
	if port := os.Getenv("API_PORT"); port != "" {
		logger.Debug("Overriding config value", "key", "API_PORT", "source", "env")
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		logger.Debug("Overriding config value", "key", "WEBSOCKET_PORT", "source", "env")
		cfg.WebSocketPort = port
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		logger.Debug("Overriding config value", "key", "REDIS_ADDR", "source", "env")
		cfg.DurableQueue.RedisAddr = redisAddr
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		logger.Debug("Overriding config value", "key", "JWT_SECRET", "source", "env")
		cfg.JWTSecret = secret
	}
	if topic := os.Getenv("PUSH_TOPIC_ID"); topic != "" {
		logger.Debug("Overriding config value", "key", "PUSH_TOPIC_ID", "source", "env")
		cfg.PushNotificationsTopicID = topic
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.Cors.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if err := validate(cfg); err != nil {
		logger.Error("Final config validation failed", "error", err.Error())
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.APIPort == "" {
		return fmt.Errorf("API_PORT is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return fmt.Errorf("WEBSOCKET_PORT is not set in config or env var")
	}

	switch cfg.RunMode {
	case RunModeLocal:
		return nil
	case RunModeProd:
	default:
		return fmt.Errorf("invalid run_mode: %q (must be %q or %q)", cfg.RunMode, RunModeProd, RunModeLocal)
	}

	if cfg.ProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is not set in config or env var")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	if cfg.PushNotificationsTopicID == "" {
		return fmt.Errorf("PUSH_TOPIC_ID is not set in config or env var")
	}
	switch cfg.ProfileStore.Type {
	case "firestore", "memory":
	default:
		return fmt.Errorf("invalid profile_store type: %q (must be 'firestore' or 'memory')", cfg.ProfileStore.Type)
	}
	return nil
}
