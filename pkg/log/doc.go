// Package log provides marconi's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Entries flow through a
// Formatter (JSON or text) into one or more Outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("registry"), log.Str("project", "demo"))
//	l.Info("queue created", log.Str("queue", "orders"))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (level plus
// "json"/"text" format), which is what the CLI flags map onto.
//
// # Interop
//
// RedirectStdLog routes standard library log output from embedded libraries
// through a Logger so all process output shares one format.
package log
