package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlDurableQueueConfig struct {
	Redis     YamlRedisConfig `yaml:"redis"`
	KeyPrefix string          `yaml:"key_prefix"`
	TTL       time.Duration   `yaml:"ttl"`
}

type YamlFallbackQueueConfig struct {
	MaxItemsPerUser int `yaml:"max_items_per_user"`
}

type YamlFirestoreConfig struct {
	Collection string `yaml:"collection"`
}

type YamlProfileStoreConfig struct {
	Type      string              `yaml:"type"` // "firestore" or "memory"
	Firestore YamlFirestoreConfig `yaml:"firestore"`
	CacheSize int                 `yaml:"cache_size"`
}

type YamlSessionConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the config.yaml file.
type YamlConfig struct {
	ProjectID                string                  `yaml:"project_id"`
	RunMode                  string                  `yaml:"run_mode"`
	APIPort                  string                  `yaml:"api_port"`
	WebSocketPort            string                  `yaml:"websocket_port"`
	Cors                     YamlCorsConfig          `yaml:"cors"`
	DurableQueue             YamlDurableQueueConfig  `yaml:"durable_queue"`
	FallbackQueue            YamlFallbackQueueConfig `yaml:"fallback_queue"`
	ProfileStore             YamlProfileStoreConfig  `yaml:"profile_store"`
	PushNotificationsTopicID string                  `yaml:"push_notifications_topic_id"`
	Session                  YamlSessionConfig       `yaml:"session"`
}

// --- Stage 0 Function ---

// ParseYaml unmarshals raw YAML bytes.
func ParseYaml(data []byte) (*YamlConfig, error) {
	var yamlCfg YamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	return &yamlCfg, nil
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a clean, base AppConfig struct.
// Stage 1 complete: The AppConfig struct now exists, but without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Mapping YAML config to base config struct")

	runMode := yamlCfg.RunMode
	if runMode == "" {
		runMode = RunModeProd
	}

	appCfg := &AppConfig{
		ProjectID:     yamlCfg.ProjectID,
		RunMode:       runMode,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		Cors:          yamlCfg.Cors,
		DurableQueue: DurableQueueConfig{
			RedisAddr: yamlCfg.DurableQueue.Redis.Addr,
			KeyPrefix: yamlCfg.DurableQueue.KeyPrefix,
			TTL:       yamlCfg.DurableQueue.TTL,
		},
		FallbackQueue: FallbackQueueConfig{
			MaxItemsPerUser: yamlCfg.FallbackQueue.MaxItemsPerUser,
		},
		ProfileStore: ProfileStoreConfig{
			Type:       yamlCfg.ProfileStore.Type,
			Collection: yamlCfg.ProfileStore.Firestore.Collection,
			CacheSize:  yamlCfg.ProfileStore.CacheSize,
		},
		PushNotificationsTopicID: yamlCfg.PushNotificationsTopicID,
		Session: SessionConfig{
			SendBuffer:      yamlCfg.Session.SendBuffer,
			PingInterval:    yamlCfg.Session.PingInterval,
			MaxMessageBytes: yamlCfg.Session.MaxMessageBytes,
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", appCfg.ProjectID,
		"run_mode", appCfg.RunMode,
		"api_port", appCfg.APIPort,
		"websocket_port", appCfg.WebSocketPort,
		"profile_store_type", appCfg.ProfileStore.Type,
	)

	return appCfg, nil
}
