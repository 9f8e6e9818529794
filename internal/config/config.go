// Package config loads trustlog's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustlog/internal/store"
	"github.com/ppiankov/trustlog/internal/stream"
)

// StoreConfig selects the durable store backing the chain.
type StoreConfig struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver string `yaml:"driver"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn"`
}

// SpoolConfig enables file-drop ingestion when Dir is set.
type SpoolConfig struct {
	Dir string `yaml:"dir"`
}

// KafkaConfig enables the Kafka relay when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// StreamConfig tunes live subscription fan-out.
type StreamConfig struct {
	// Buffer is the per-observer backlog bound; an observer that
	// falls further behind is disconnected.
	Buffer int         `yaml:"buffer"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

// Config is the full server configuration.
type Config struct {
	Listen string       `yaml:"listen"`
	Store  StoreConfig  `yaml:"store"`
	Spool  SpoolConfig  `yaml:"spool"`
	Stream StreamConfig `yaml:"stream"`
}

// Default returns the built-in configuration: a local SQLite chain
// under the user's home directory, no spool, no Kafka relay.
func Default() *Config {
	return &Config{
		Listen: ":8440",
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    defaultDBPath(),
		},
		Stream: StreamConfig{
			Buffer: stream.DefaultBuffer,
		},
	}
}

// Load reads configuration from a YAML file. Empty path falls back to
// ~/.trustlog/config.yaml. Missing file returns defaults; invalid YAML
// or an unknown store driver returns an error.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(home, ".trustlog", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Start with defaults; YAML overwrites only specified fields.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("config: postgres driver requires a dsn")
	}
	if len(c.Stream.Kafka.Brokers) > 0 && c.Stream.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka relay requires a topic")
	}
	return nil
}

// OpenStore opens the store the configuration selects.
func (c *Config) OpenStore() (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DSN
		if dsn == "" {
			dsn = defaultDBPath()
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
				return nil, fmt.Errorf("config: create store directory: %w", err)
			}
		}
		return store.OpenSQLite(dsn)
	case "postgres":
		return store.OpenPostgres(c.Store.DSN)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "trustlog", "audit.db")
	}
	return filepath.Join(home, ".trustlog", "audit.db")
}
