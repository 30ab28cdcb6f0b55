package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Driver != "pebble" || cfg.HTTP.Addr == "" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marconi.yaml")
	doc := `
http:
  addr: ":9000"
storage:
  driver: memory
reclaim:
  interval: 30s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.Storage.Driver != "memory" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Reclaim.Interval.Std() != 30*time.Second || cfg.Log.Level != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	// untouched fields keep their defaults
	if cfg.HTTP.ShutdownTimeout.Std() != 10*time.Second {
		t.Fatalf("shutdown timeout = %v", cfg.HTTP.ShutdownTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MARCONI_HTTP_ADDR", ":7777")
	t.Setenv("MARCONI_STORAGE_DRIVER", "postgres")
	t.Setenv("MARCONI_POSTGRES_URL", "postgres://localhost/marconi")
	t.Setenv("MARCONI_RECLAIM_INTERVAL", "5m")

	cfg := Default()
	FromEnv(&cfg)
	if cfg.HTTP.Addr != ":7777" || cfg.Storage.Driver != "postgres" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Storage.Postgres.URL != "postgres://localhost/marconi" {
		t.Fatalf("postgres url = %q", cfg.Storage.Postgres.URL)
	}
	if cfg.Reclaim.Interval.Std() != 5*time.Minute {
		t.Fatalf("interval = %v", cfg.Reclaim.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown driver accepted")
	}

	cfg = Default()
	cfg.Storage.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres without url accepted")
	}

	cfg = Default()
	cfg.Storage.Pebble.Fsync = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad fsync mode accepted")
	}

	cfg = Default()
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad log level accepted")
	}
}
