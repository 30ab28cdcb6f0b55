package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pebblestore "github.com/ozgurakan/marconi/internal/storage/pebble"
	"github.com/ozgurakan/marconi/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	Reclaim ReclaimConfig `yaml:"reclaim"`
	Log     log.Config    `yaml:"log"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the backend driver.
type StorageConfig struct {
	// Driver is one of "memory", "pebble", "postgres".
	Driver   string         `yaml:"driver"`
	Pebble   PebbleConfig   `yaml:"pebble"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PebbleConfig configures the embedded store.
type PebbleConfig struct {
	DataDir       string   `yaml:"data_dir"`
	Fsync         string   `yaml:"fsync"`
	FsyncInterval Duration `yaml:"fsync_interval"`
}

// PostgresConfig configures the SQL store.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// ReclaimConfig configures the background maintenance pass. A zero interval
// disables it; expiry still holds because it is enforced at read time.
type ReclaimConfig struct {
	Interval Duration `yaml:"interval"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8888",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Driver: "pebble",
			Pebble: PebbleConfig{
				DataDir: DefaultDataDir(),
				Fsync:   "always",
			},
		},
		Reclaim: ReclaimConfig{Interval: Duration(time.Minute)},
		Log:     log.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file. If path is empty, returns
// defaults. Environment overlay is the caller's choice via FromEnv.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the server could not start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "pebble":
		if _, err := pebblestore.ParseFsyncMode(c.Storage.Pebble.Fsync); err != nil {
			return err
		}
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage driver postgres requires a url")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
