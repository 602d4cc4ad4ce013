package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything tunable at process start. Values come from
// WHITEBOARD_* environment variables with sensible defaults, so the server
// runs with no configuration at all in development.
type Config struct {
	Addr              string
	DBPath            string
	CheckpointBatch   int
	ReapInterval      time.Duration
	RetentionWindow   time.Duration
	MessagesPerSecond float64
	MessageBurst      int
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("whiteboard")
	v.AutomaticEnv()

	v.SetDefault("addr", ":5000")
	v.SetDefault("db_path", "./data/whiteboard.db")
	v.SetDefault("checkpoint_batch", 10)
	v.SetDefault("reap_interval", "1h")
	v.SetDefault("retention_window", "24h")
	v.SetDefault("messages_per_second", 100)
	v.SetDefault("message_burst", 200)

	// AutomaticEnv only resolves keys on direct lookups, so read every
	// field through a typed getter rather than Unmarshal.
	for _, key := range []string{
		"addr", "db_path", "checkpoint_batch", "reap_interval",
		"retention_window", "messages_per_second", "message_burst",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	cfg := Config{
		Addr:              v.GetString("addr"),
		DBPath:            v.GetString("db_path"),
		CheckpointBatch:   v.GetInt("checkpoint_batch"),
		ReapInterval:      v.GetDuration("reap_interval"),
		RetentionWindow:   v.GetDuration("retention_window"),
		MessagesPerSecond: v.GetFloat64("messages_per_second"),
		MessageBurst:      v.GetInt("message_burst"),
	}

	if cfg.CheckpointBatch <= 0 {
		return nil, fmt.Errorf("checkpoint_batch must be positive, got %d", cfg.CheckpointBatch)
	}
	if cfg.RetentionWindow <= 0 {
		return nil, fmt.Errorf("retention_window must be positive, got %v", cfg.RetentionWindow)
	}

	return &cfg, nil
}
