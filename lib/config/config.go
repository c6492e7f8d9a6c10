// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the sentinel ingest service.
type Config struct {
	// Source configures the upstream MQTT event source.
	Source SourceConfig `yaml:"source"`

	// HTTP configures the query/ingest API server.
	HTTP HTTPConfig `yaml:"http"`

	// Storage configures the durable reading log.
	Storage StorageConfig `yaml:"storage"`

	// Retention configures the background sweep of old readings.
	Retention RetentionConfig `yaml:"retention"`

	// Stats configures the trailing window used by the live
	// statistics endpoints.
	Stats StatsConfig `yaml:"stats"`
}

// SourceConfig configures the MQTT subscription.
type SourceConfig struct {
	// BrokerURL is the MQTT broker address, e.g. "tcp://localhost:1883".
	BrokerURL string `yaml:"broker_url"`

	// Topic is the inference topic the sensors publish on.
	Topic string `yaml:"topic"`

	// ClientIDPrefix prefixes the randomized MQTT client identifier.
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	// ListenAddress is the host:port the API binds to.
	ListenAddress string `yaml:"listen_address"`
}

// StorageConfig configures the SQLite-backed durable log.
type StorageConfig struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string `yaml:"path"`

	// PoolSize is the connection pool size. Zero selects the
	// sqlitepool default.
	PoolSize int `yaml:"pool_size"`
}

// RetentionConfig configures the retention sweeper.
type RetentionConfig struct {
	// Horizon is how long raw readings are kept. Readings whose
	// recorded time is older than now−Horizon are deleted by the
	// sweeper. Default: 30 days.
	Horizon Duration `yaml:"horizon"`

	// SweepInterval is how often the sweeper runs. Default: 24h.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// StatsConfig configures the live statistics endpoints.
type StatsConfig struct {
	// TrailingWindow bounds the stats and device-stats scans.
	// Default: 24h.
	TrailingWindow Duration `yaml:"trailing_window"`
}

// Duration wraps time.Duration for YAML fields written in Go duration
// syntax ("24h", "720h", "15m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with development defaults: local broker,
// local listener, a database in the working directory, 30-day
// retention swept daily, and a 24-hour stats window.
func Default() Config {
	return Config{
		Source: SourceConfig{
			BrokerURL:      "tcp://localhost:1883",
			Topic:          "/machine/audio/inference",
			ClientIDPrefix: "sentinel-ingest",
		},
		HTTP: HTTPConfig{
			ListenAddress: "127.0.0.1:3001",
		},
		Storage: StorageConfig{
			Path: "anomalies.db",
		},
		Retention: RetentionConfig{
			Horizon:       Duration(30 * 24 * time.Hour),
			SweepInterval: Duration(24 * time.Hour),
		},
		Stats: StatsConfig{
			TrailingWindow: Duration(24 * time.Hour),
		},
	}
}

// Load reads the file named by SENTINEL_CONFIG. With the variable
// unset, Load returns Default().
func Load() (Config, error) {
	path := os.Getenv("SENTINEL_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads one YAML config file, applying Default() for any
// field the file leaves unset.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Source.BrokerURL == "" {
		return fmt.Errorf("source.broker_url is required")
	}
	if c.Source.Topic == "" {
		return fmt.Errorf("source.topic is required")
	}
	if c.HTTP.ListenAddress == "" {
		return fmt.Errorf("http.listen_address is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Retention.Horizon <= 0 {
		return fmt.Errorf("retention.horizon must be positive")
	}
	if c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("retention.sweep_interval must be positive")
	}
	if c.Stats.TrailingWindow <= 0 {
		return fmt.Errorf("stats.trailing_window must be positive")
	}
	return nil
}
