// pgdesk - desktop PostgreSQL workbench backend
//
// This is the main entry point. pgdesk supervises an embedded PostgreSQL
// engine, runs statements for the UI one connection per call, and hosts a
// shell in a pseudo-terminal whose output is pushed to the UI.
//
// Subcommands:
//   - serve: engine + terminal + HTTP/WebSocket API for the UI
//   - repl: interactive SQL prompt against the embedded engine
//   - version: build information
package main

import (
	"os"
	"path/filepath"

	"github.com/nerrad567/pgdesk/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// The --config flag wins, then PGDESK_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("PGDESK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads path. Only the default path may be absent, in which
// case built-in defaults (plus environment overrides) are used.
func loadConfig(path string) (*config.Config, error) {
	if filepath.Clean(path) == filepath.Clean(defaultConfigPath) {
		return config.LoadOrDefault(path)
	}
	return config.Load(path)
}
