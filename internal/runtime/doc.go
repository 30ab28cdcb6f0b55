// Package runtime assembles a single-node marconi instance: it opens the
// configured storage backend and builds the lifecycle engine the transports
// serve.
package runtime
