package runtime

import (
	"context"
	"fmt"

	cfgpkg "github.com/ozgurakan/marconi/internal/config"
	"github.com/ozgurakan/marconi/internal/metrics"
	"github.com/ozgurakan/marconi/internal/queue"
	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/internal/storage/memory"
	pebblestore "github.com/ozgurakan/marconi/internal/storage/pebble"
	postgresstore "github.com/ozgurakan/marconi/internal/storage/postgres"
	"github.com/ozgurakan/marconi/pkg/log"
)

// Runtime wires storage, engine and config for a single-node instance.
type Runtime struct {
	backend storage.Backend
	engine  *queue.Engine
	config  cfgpkg.Config
}

// Open builds the backend selected by the configuration and an engine on
// top of it.
func Open(ctx context.Context, cfg cfgpkg.Config, logger log.Logger) (*Runtime, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine := queue.New(backend,
		queue.WithLimits(cfg.Limits.ToLimits()),
		queue.WithLogger(logger),
	)
	return &Runtime{backend: backend, engine: engine, config: cfg}, nil
}

func openBackend(ctx context.Context, cfg cfgpkg.Config) (storage.Backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), nil
	case "pebble":
		fsync, err := pebblestore.ParseFsyncMode(cfg.Storage.Pebble.Fsync)
		if err != nil {
			return nil, err
		}
		return pebblestore.OpenBackend(pebblestore.Options{
			DataDir:       cfg.Storage.Pebble.DataDir,
			Fsync:         fsync,
			FsyncInterval: cfg.Storage.Pebble.FsyncInterval.Std(),
			Metrics:       metrics.StorageHook{},
		})
	case "postgres":
		return postgresstore.Open(ctx, cfg.Storage.Postgres.URL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Engine returns the lifecycle engine.
func (r *Runtime) Engine() *queue.Engine { return r.engine }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}

// CheckHealth verifies the storage backend is reachable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	return r.backend.Health(ctx)
}
