// Package logging provides structured logging for pgdesk.
//
// This package wraps Go's standard log/slog package so every component
// (engine supervisor, query gateway, terminal pump, API) logs with the same
// handler and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// The REPL writes results to stdout, so the default output is stderr.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("engine started", "port", 5432)
//	engineLog := logger.With("component", "engine")
//
// Never log the engine password or the InfluxDB token.
package logging
