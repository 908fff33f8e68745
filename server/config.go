package server

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the reconciliation engine. The timing
// fields default to the empirically observed platform behavior; none of
// the literal values are load-bearing and all may be overridden.
type Config struct {
	// LocalUserID is the durable user id of the account this engine
	// mirrors. Self events (own chat, own avatar swaps) are suppressed
	// against it.
	LocalUserID string `yaml:"local_user_id" validate:"required"`

	// LocalDisplayName is the display name of the local account.
	LocalDisplayName string `yaml:"local_display_name" validate:"required"`

	BridgeAddr  string `yaml:"bridge_addr" validate:"required,url"`
	SessionLog  string `yaml:"session_log_path"`
	DatabaseURI string `yaml:"database_uri" validate:"required"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Presence downgrade confirmation delay (online -> active/offline).
	OfflineConfirmDelay time.Duration `yaml:"offline_confirm_delay" validate:"min=0"`
	// Duplicate-online suppression window against the last-seen-online
	// timestamp.
	DuplicateOnlineWindow time.Duration `yaml:"duplicate_online_window" validate:"min=0"`

	// Roster-transition suppression windows.
	StaleLeaveWindow time.Duration `yaml:"stale_leave_window" validate:"min=0"`
	StaleJoinWindow  time.Duration `yaml:"stale_join_window" validate:"min=0"`

	// Timeout detection: a handle silent longer than TimeoutThreshold and
	// present longer than TimeoutGrace is a timeout candidate.
	TimeoutThreshold time.Duration `yaml:"timeout_threshold" validate:"min=0"`
	TimeoutGrace     time.Duration `yaml:"timeout_grace" validate:"min=0"`

	// Feed aggregation.
	BatchWindow      time.Duration `yaml:"batch_window" validate:"min=0"`
	RetentionWindow  time.Duration `yaml:"retention_window" validate:"min=0"`
	CompactFeedLimit int           `yaml:"compact_feed_limit" validate:"min=1"`
	TableFeedLimit   int           `yaml:"table_feed_limit" validate:"min=1"`

	// Dispatch guards.
	StaleNotifyWindow time.Duration `yaml:"stale_notify_window" validate:"min=0"`

	// Directory API client.
	APIRequestsPerSecond float64       `yaml:"api_requests_per_second" validate:"gt=0"`
	APIRetryCount        int           `yaml:"api_retry_count" validate:"min=0"`
	APIRetryDelay        time.Duration `yaml:"api_retry_delay" validate:"min=0"`
	APICooldown          time.Duration `yaml:"api_cooldown" validate:"min=0"`

	// Identity cache.
	IdentityCacheTTL time.Duration `yaml:"identity_cache_ttl" validate:"min=0"`

	Filters FilterConfig `yaml:"filters"`
	Sinks   SinkConfig   `yaml:"sinks"`
}

// FilterConfig maps feed entry types to a filter mode per surface.
type FilterConfig struct {
	Feed         map[string]FilterMode `yaml:"feed"`
	Notification map[string]FilterMode `yaml:"notification"`
}

// SinkConfig toggles individual delivery sinks.
type SinkConfig struct {
	Toast   bool `yaml:"toast"`
	Overlay bool `yaml:"overlay"`
	TTS     bool `yaml:"tts"`
	Table   bool `yaml:"table"`
}

func NewConfig() *Config {
	return &Config{
		BridgeAddr:  "ws://127.0.0.1:7350/bridge",
		DatabaseURI: "file:vrcompanion.db",
		LogLevel:    "info",

		OfflineConfirmDelay:   110 * time.Second,
		DuplicateOnlineWindow: time.Second,
		StaleLeaveWindow:      5 * time.Second,
		StaleJoinWindow:       20 * time.Second,
		TimeoutThreshold:      8 * time.Second,
		TimeoutGrace:          70 * time.Second,

		BatchWindow:      150 * time.Millisecond,
		RetentionWindow:  24 * time.Hour,
		CompactFeedLimit: 16,
		TableFeedLimit:   1000,

		StaleNotifyWindow: 60 * time.Second,

		APIRequestsPerSecond: 1,
		APIRetryCount:        3,
		APIRetryDelay:        5 * time.Second,
		APICooldown:          30 * time.Second,

		IdentityCacheTTL: time.Hour,

		Filters: FilterConfig{
			Feed:         map[string]FilterMode{},
			Notification: map[string]FilterMode{},
		},
		Sinks: SinkConfig{Toast: true, Table: true},
	}
}

// LoadConfig reads a YAML config over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	config := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
