package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/ozgurakan/marconi/internal/config"
)

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Storage.Driver = "bogus"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := Run(ctx, cfg); err == nil {
		t.Fatal("expected error for invalid driver")
	}
}

// TestRunIntegration is a basic integration test that verifies Run can be
// started and shut down cleanly. Minimal since Run starts an actual server.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := cfgpkg.Default()
	cfg.Storage.Driver = "pebble"
	cfg.Storage.Pebble.DataDir = t.TempDir()
	cfg.Storage.Pebble.Fsync = "never"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Reclaim.Interval = cfgpkg.Duration(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Should start, run until the timeout cancels the context, then return.
	if err := Run(ctx, cfg); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}
