package config

import (
	"os"
	"time"
)

// FromEnv overlays MARCONI_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("MARCONI_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("MARCONI_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("MARCONI_DATA_DIR"); v != "" {
		cfg.Storage.Pebble.DataDir = v
	}
	if v := os.Getenv("MARCONI_STORAGE_FSYNC"); v != "" {
		cfg.Storage.Pebble.Fsync = v
	}
	if v := os.Getenv("MARCONI_POSTGRES_URL"); v != "" {
		cfg.Storage.Postgres.URL = v
	}
	if v := os.Getenv("MARCONI_RECLAIM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reclaim.Interval = Duration(d)
		}
	}
	if v := os.Getenv("MARCONI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MARCONI_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
