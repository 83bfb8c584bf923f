// Package process provides generic subprocess lifecycle management.
//
// pgdesk uses it for the embedded PostgreSQL server (a long-running child
// that must never be launched twice) and for the one-shot helper binaries
// run while provisioning it (initdb).
//
// Features:
//   - Start/stop with SIGTERM to the process group, SIGKILL after a timeout
//   - No respawn: an exit is reported through Done and LastError
//   - Optional health-check watchdog
//   - Line-wise capture of stdout/stderr, with a short tail kept for errors
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:            "postgres",
//	    Binary:          filepath.Join(binDir, "postgres"),
//	    Args:            []string{"-D", dataDir, "-p", "5432"},
//	    GracefulTimeout: 5 * time.Second,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
