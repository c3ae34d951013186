// Package log provides the structured logging facade used across the writer
// engine, the runtime and the CLI.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Records are routed through log/slog via a
// bridge handler, then formatted (text or JSON) and written to one or more
// outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("writer"), log.Str("guid", g.String()))
//	l.Warn("payload pool exhausted", log.Int("size", 4096))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, format,
// outputs). RedirectStdLog routes the standard library logger (used by Pebble
// and gRPC internals) into a Logger.
package log
