// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the Marconi runtime with the HTTP server and claim reclaimer, handling
// lifecycle and shutdown.
//
// Example:
//
//	cfg := config.Default()
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, cfg)
package serverrun
