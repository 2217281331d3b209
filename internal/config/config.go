// Package config loads and watches the repsync configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"repsync/internal/realtime"
	"repsync/pkg/logger"
)

// Config is the application configuration root.
type Config struct {
	ServerURL string                   `mapstructure:"server_url" yaml:"server_url"`
	AccountID string                   `mapstructure:"account_id" yaml:"account_id"`
	Log       logger.Config            `mapstructure:"log" yaml:"log"`
	Storage   StorageConfig            `mapstructure:"storage" yaml:"storage"`
	Status    StatusConfig             `mapstructure:"status" yaml:"status"`
	Sync      SyncConfig               `mapstructure:"sync" yaml:"sync"`
	Channels  map[string]ChannelConfig `mapstructure:"channels" yaml:"channels"`
}

// StorageConfig configures the offline session cache.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// StatusConfig configures the local status HTTP endpoint.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// SyncConfig configures the periodic reconciliation jobs. Schedules use
// cron syntax.
type SyncConfig struct {
	RequestSchedule string `mapstructure:"request_schedule" yaml:"request_schedule"`
	FlushSchedule   string `mapstructure:"flush_schedule" yaml:"flush_schedule"`
}

// ChannelConfig declares one logical channel. Durations are in seconds to
// match the wire-facing configuration the server documents.
type ChannelConfig struct {
	Endpoint                 string            `mapstructure:"endpoint" yaml:"endpoint"`
	RequiresAuth             bool              `mapstructure:"requires_auth" yaml:"requires_auth"`
	AutoReconnect            bool              `mapstructure:"auto_reconnect" yaml:"auto_reconnect"`
	MaxReconnectAttempts     int               `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelaySeconds    float64           `mapstructure:"reconnect_delay_seconds" yaml:"reconnect_delay_seconds"`
	HeartbeatIntervalSeconds float64           `mapstructure:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
	ConnectTimeoutSeconds    float64           `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	Headers                  map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// ToRealtime converts the declaration into the immutable channel settings.
func (c ChannelConfig) ToRealtime(id string) realtime.ChannelConfig {
	return realtime.ChannelConfig{
		ID:                   id,
		Endpoint:             c.Endpoint,
		RequiresAuth:         c.RequiresAuth,
		AutoReconnect:        c.AutoReconnect,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectDelay:       secondsToDuration(c.ReconnectDelaySeconds),
		HeartbeatInterval:    secondsToDuration(c.HeartbeatIntervalSeconds),
		ConnectTimeout:       secondsToDuration(c.ConnectTimeoutSeconds),
		ExtraHeaders:         c.Headers,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL: "https://localhost:8000",
		Log: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7878",
		},
		Sync: SyncConfig{
			RequestSchedule: "@every 5m",
			FlushSchedule:   "@every 1m",
		},
		Channels: map[string]ChannelConfig{
			"exercise_session": {
				Endpoint:                 "/v2/exercise-session/ws",
				RequiresAuth:             true,
				AutoReconnect:            true,
				MaxReconnectAttempts:     5,
				ReconnectDelaySeconds:    3,
				HeartbeatIntervalSeconds: 30,
				ConnectTimeoutSeconds:    10,
			},
		},
	}
}

// Load reads the configuration file at path, layering it over defaults and
// REPSYNC_* environment variables. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Storage.Path == "" {
		dataPath, err := DefaultDataPath()
		if err != nil {
			return nil, err
		}
		cfg.Storage.Path = dataPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	for id, ch := range c.Channels {
		if ch.Endpoint == "" {
			return fmt.Errorf("channel %s: endpoint is required", id)
		}
		if ch.MaxReconnectAttempts < 0 {
			return fmt.Errorf("channel %s: max_reconnect_attempts must be >= 0", id)
		}
		if ch.ReconnectDelaySeconds < 0 || ch.HeartbeatIntervalSeconds < 0 || ch.ConnectTimeoutSeconds < 0 {
			return fmt.Errorf("channel %s: durations must be >= 0", id)
		}
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
