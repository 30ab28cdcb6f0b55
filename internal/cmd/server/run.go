package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cfgpkg "github.com/ozgurakan/marconi/internal/config"
	"github.com/ozgurakan/marconi/internal/queue"
	"github.com/ozgurakan/marconi/internal/runtime"
	httpserver "github.com/ozgurakan/marconi/internal/server/http"
	logpkg "github.com/ozgurakan/marconi/pkg/log"
)

// Run starts the HTTP server and reclaimer and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg cfgpkg.Config) error {
	// Be robust to callers that don't pass a signal-aware context
	// or if signal delivery needs to be observed here. We layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	procLogger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		// Fallback to a sane default
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Log.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(sctx, cfg, procLogger)
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting Marconi server",
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("driver", cfg.Storage.Driver),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	hsrv := httpserver.New(rt, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTP.Addr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server failed", logpkg.Err(err))
		}
	}()

	if interval := cfg.Reclaim.Interval.Std(); interval > 0 {
		reclaimer := queue.NewReclaimer(rt.Engine(), interval, procLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reclaimer.Run(sctx)
		}()
	}

	<-sctx.Done()
	// Initiate graceful shutdown of the server before closing the runtime/DB
	// to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}
