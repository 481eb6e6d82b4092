// Package config loads swipedeck configuration: YAML file, then SWIPE_*
// environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/swipedeck/prefetch"
	"github.com/IvanBrykalov/swipedeck/session"
	"github.com/IvanBrykalov/swipedeck/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWIPE_"

// Config holds all swipedeck configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Session   SessionConfig   `yaml:"session" envPrefix:"SESSION_"`
	Prefetch  PrefetchConfig  `yaml:"prefetch" envPrefix:"PREFETCH_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Remote    RemoteConfig    `yaml:"remote" envPrefix:"REMOTE_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
}

// StoreConfig bounds the candidate store. Zero disables a limit.
type StoreConfig struct {
	Capacity   int           `yaml:"capacity" env:"CAPACITY" validate:"gte=0"`
	MaxBytes   int64         `yaml:"max_bytes" env:"MAX_BYTES" validate:"gte=0"`
	IdleWindow time.Duration `yaml:"idle_window" env:"IDLE_WINDOW" validate:"gte=0"`
}

// SessionConfig controls decision resolution.
type SessionConfig struct {
	DecisionTimeout time.Duration `yaml:"decision_timeout" env:"DECISION_TIMEOUT" validate:"gt=0"`
	HistoryTTL      time.Duration `yaml:"history_ttl" env:"HISTORY_TTL" validate:"gt=0"`
}

// PrefetchConfig controls refills.
type PrefetchConfig struct {
	LowWaterMark int           `yaml:"low_water_mark" env:"LOW_WATER_MARK" validate:"gte=0"`
	BatchSize    int           `yaml:"batch_size" env:"BATCH_SIZE" validate:"gte=1,lte=500"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" validate:"gt=0"`
}

// TelemetryConfig controls the event stream.
type TelemetryConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	MinInterval time.Duration `yaml:"min_interval" env:"MIN_INTERVAL" validate:"gte=50ms"`
	// NATSURL enables the NATS sink when set.
	NATSURL string `yaml:"nats_url" env:"NATS_URL" validate:"omitempty,url"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
	// File adds a rotated JSON file output when set.
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS" validate:"gte=0"`
}

// RemoteConfig points at the SQLite remote.
type RemoteConfig struct {
	DBPath string `yaml:"db_path" env:"DB_PATH" validate:"required"`
}

// MetricsConfig controls the Prometheus endpoint; empty Addr disables it.
type MetricsConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Capacity:   200,
			MaxBytes:   4 << 20,
			IdleWindow: 2 * time.Minute,
		},
		Session: SessionConfig{
			DecisionTimeout: 10 * time.Second,
			HistoryTTL:      10 * time.Minute,
		},
		Prefetch: PrefetchConfig{
			LowWaterMark: 3,
			BatchSize:    20,
			FetchTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			MinInterval: 50 * time.Millisecond,
			Subject:     "swipedeck",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Remote: RemoteConfig{
			DBPath: "swipedeck.db",
		},
		Metrics: MetricsConfig{
			Namespace: "swipedeck",
		},
	}
}

var validate = validator.New()

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty; ${VAR} references are expanded), and SWIPE_* environment
// variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StoreOptions converts the store section. Metrics, logger and clock are left
// for the caller.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Capacity:   c.Store.Capacity,
		MaxBytes:   c.Store.MaxBytes,
		IdleWindow: c.Store.IdleWindow,
	}
}

// PrefetchOptions converts the prefetch section.
func (c *Config) PrefetchOptions() prefetch.Options {
	lwm := c.Prefetch.LowWaterMark
	if lwm == 0 {
		lwm = -1 // explicit zero, not "use the default"
	}
	return prefetch.Options{
		LowWaterMark: lwm,
		BatchSize:    c.Prefetch.BatchSize,
		FetchTimeout: c.Prefetch.FetchTimeout,
	}
}

// SessionOptions converts every section a session needs.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Store:           c.StoreOptions(),
		Prefetch:        c.PrefetchOptions(),
		DecisionTimeout: c.Session.DecisionTimeout,
		HistoryTTL:      c.Session.HistoryTTL,
		EventInterval:   c.Telemetry.MinInterval,
	}
}
