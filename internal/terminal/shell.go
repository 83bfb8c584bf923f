package terminal

import "os"

const (
	fallbackShell = "/bin/sh"
	termType      = "xterm-256color"
)

// DefaultShell returns $SHELL, or /bin/sh when it is unset.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return fallbackShell
}
