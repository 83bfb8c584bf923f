package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Run executes a short-lived command to completion and returns its combined
// output. A non-zero exit is reported with the last line of output, which
// is where tools like initdb put their diagnosis.
func Run(ctx context.Context, cfg Config) ([]byte, error) {
	cmd := exec.CommandContext(ctx, cfg.Binary, cfg.Args...) //nolint:gosec // Binary path comes from trusted configuration
	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if last := lastLine(out); last != "" {
			return out, fmt.Errorf("running %s: %w: %s", cfg.Name, err, last)
		}
		return out, fmt.Errorf("running %s: %w", cfg.Name, err)
	}
	return out, nil
}

func lastLine(out []byte) string {
	trimmed := bytes.TrimRight(out, "\r\n\t ")
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return strings.TrimSpace(string(trimmed))
}
