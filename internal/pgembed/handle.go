package pgembed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5"

	"github.com/nerrad567/pgdesk/internal/process"
)

const (
	readyPollInterval = 100 * time.Millisecond
	livenessInterval  = 30 * time.Second
	pingTimeout       = time.Second
	storageDirPerm    = 0o700
	pwFilePerm        = 0o600

	// maintenanceDB is the database used for readiness pings and CREATE DATABASE.
	maintenanceDB = "postgres"
)

// Handle is a provisioned engine. It is created by Setup and shared by
// everything that talks to the database.
type Handle struct {
	settings   Settings
	binDir     string
	runtimeDir string
	lock       *flock.Flock
	logger     Logger

	mu      sync.Mutex
	proc    *process.Manager
	stopped bool
}

// Setup provisions an engine without starting it: it locks the storage
// directory, locates or downloads binaries and runs initdb when the data
// directory is not initialised yet. Failures are reported as *ProvisionError.
func Setup(ctx context.Context, s Settings) (*Handle, error) {
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, &ProvisionError{Op: "validate", Err: err}
	}

	storage, err := filepath.Abs(s.StorageDir)
	if err != nil {
		return nil, &ProvisionError{Op: "storage", Err: err}
	}
	s.StorageDir = storage

	if err := os.MkdirAll(filepath.Dir(storage), 0o755); err != nil {
		return nil, &ProvisionError{Op: "storage", Err: err}
	}

	lock := flock.New(storage + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &ProvisionError{Op: "lock", Err: err}
	}
	if !locked {
		return nil, &ProvisionError{Op: "lock", Err: fmt.Errorf("%w: %s", ErrLocked, storage)}
	}

	h := &Handle{
		settings: s,
		lock:     lock,
		logger:   s.Logger,
	}

	if err := h.provision(ctx); err != nil {
		h.release()
		return nil, err
	}
	return h, nil
}

func (h *Handle) provision(ctx context.Context) error {
	s := &h.settings

	binDir, err := resolveBinaries(ctx, s)
	if err != nil {
		return &ProvisionError{Op: "fetch", Err: err}
	}
	h.binDir = binDir

	if !s.Persistent {
		// Scratch storage never survives a previous run.
		if err := os.RemoveAll(s.StorageDir); err != nil {
			return &ProvisionError{Op: "storage", Err: err}
		}
	}

	// Unix socket paths are length-limited, so keep them out of StorageDir.
	runtimeDir, err := os.MkdirTemp("", "pgdesk-run-")
	if err != nil {
		return &ProvisionError{Op: "runtime", Err: err}
	}
	h.runtimeDir = runtimeDir

	if initialised(s.StorageDir) {
		h.logger.Info("reusing initialised storage", "dir", s.StorageDir)
		return nil
	}
	if err := h.initdb(ctx); err != nil {
		return &ProvisionError{Op: "initdb", Err: err}
	}
	return nil
}

// initialised reports whether dir already holds a cluster.
func initialised(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "PG_VERSION"))
	return err == nil
}

func (h *Handle) initdb(ctx context.Context) error {
	s := &h.settings

	if err := os.MkdirAll(s.StorageDir, storageDirPerm); err != nil {
		return err
	}

	args := []string{
		"-D", s.StorageDir,
		"-A", string(s.AuthMethod),
		"-U", s.Username,
		"-E", "UTF8",
	}

	if s.Password != "" {
		pwFile := filepath.Join(h.runtimeDir, "pwfile")
		if err := os.WriteFile(pwFile, []byte(s.Password+"\n"), pwFilePerm); err != nil {
			return fmt.Errorf("writing password file: %w", err)
		}
		defer os.Remove(pwFile) //nolint:errcheck // Only needed by initdb
		args = append(args, "--pwfile="+pwFile)
	}

	h.logger.Info("initialising storage", "dir", s.StorageDir, "auth", s.AuthMethod)

	out, err := process.Run(ctx, process.Config{
		Name:   "initdb",
		Binary: filepath.Join(h.binDir, "bin", "initdb"),
		Args:   args,
		Env:    []string{"LC_ALL=C"},
	})
	if err != nil {
		return err
	}
	h.logger.Debug("initdb finished", "output", strings.TrimSpace(string(out)))
	return nil
}

// Start launches the engine and blocks until it accepts connections or
// StartTimeout elapses. Starting a running engine is a no-op.
// Failures are reported as *StartError.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return &StartError{Op: "start", Err: ErrStopped}
	}
	if h.proc != nil && h.proc.IsRunning() {
		return nil
	}

	if err := probePort(h.settings.Port); err != nil {
		return &StartError{Op: "probe", Err: err}
	}

	liveURI := h.URI(maintenanceDB)
	proc := process.NewManager(process.Config{
		Name:   "postgres",
		Binary: filepath.Join(h.binDir, "bin", "postgres"),
		Args: []string{
			"-D", h.settings.StorageDir,
			"-p", strconv.Itoa(h.settings.Port),
			"-h", "localhost",
			"-k", h.runtimeDir,
		},
		Env:             []string{"LC_ALL=C"},
		GracefulTimeout: h.settings.GracefulTimeout,
		// A hung engine is killed after three missed pings; it is not respawned.
		HealthCheckFunc: func(ctx context.Context) error {
			return ping(ctx, liveURI)
		},
		HealthCheckInterval: livenessInterval,
	})
	proc.SetLogger(h.logger)

	// The engine outlives the caller's startup context.
	if err := proc.Start(context.WithoutCancel(ctx)); err != nil {
		return &StartError{Op: "launch", Err: err}
	}
	h.proc = proc

	if err := h.waitForReady(ctx); err != nil {
		if stopErr := proc.Stop(); stopErr != nil {
			h.logger.Warn("error stopping engine after failed readiness check", "error", stopErr)
		}
		return &StartError{Op: "ready", Err: err}
	}

	h.logger.Info("engine ready",
		"port", h.settings.Port,
		"pid", proc.PID(),
		"data_dir", h.settings.StorageDir,
	)
	return nil
}

// probePort fails with ErrPortInUse if the port cannot be bound on localhost.
func probePort(port int) error {
	l, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: %d: %v", ErrPortInUse, port, err)
	}
	return l.Close()
}

// waitForReady pings the engine until it answers, exits, or the timeout passes.
func (h *Handle) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(h.settings.StartTimeout)
	uri := h.URI(maintenanceDB)
	exited := h.proc.Done()

	h.logger.Debug("waiting for engine", "port", h.settings.Port, "timeout", h.settings.StartTimeout)

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for engine: %w", ctx.Err())
		case <-exited:
			return h.exitError()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v: %v", ErrStartTimeout, h.settings.StartTimeout, lastErr)
		}

		if lastErr = ping(ctx, uri); lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-exited:
		case <-time.After(readyPollInterval):
		}
	}
}

func (h *Handle) exitError() error {
	msg := "engine exited during startup"
	if out := h.proc.Output(); len(out) > 0 {
		msg += ": " + out[len(out)-1]
	}
	if err := h.proc.LastError(); err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return errors.New(msg)
}

func ping(ctx context.Context, uri string) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	conn, err := pgx.Connect(pingCtx, uri)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background()) //nolint:errcheck // Ping only
	return conn.Ping(pingCtx)
}

// Stop stops the engine, removes scratch storage and releases the storage
// lock. Stopping a stopped handle is a no-op. The handle cannot be restarted.
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true

	var errs []error
	if h.proc != nil {
		if err := h.proc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping engine: %w", err))
		}
	}
	if !h.settings.Persistent {
		if err := os.RemoveAll(h.settings.StorageDir); err != nil {
			errs = append(errs, fmt.Errorf("removing scratch storage: %w", err))
		}
	}
	h.release()

	h.logger.Info("engine stopped", "persistent", h.settings.Persistent)
	return errors.Join(errs...)
}

// release frees the runtime directory and the storage lock.
func (h *Handle) release() {
	if h.runtimeDir != "" {
		os.RemoveAll(h.runtimeDir) //nolint:errcheck // Temp dir
	}
	if h.lock != nil {
		h.lock.Unlock() //nolint:errcheck // Lock file is advisory
		os.Remove(h.lock.Path()) //nolint:errcheck // Best effort tidy-up
	}
}

// IsRunning reports whether the engine process is running.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.proc != nil && h.proc.IsRunning()
}

// URI returns the connection string for database db.
func (h *Handle) URI(db string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(h.settings.Username, h.settings.Password),
		Host:     net.JoinHostPort("localhost", strconv.Itoa(h.settings.Port)),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Port returns the engine's TCP port.
func (h *Handle) Port() int {
	return h.settings.Port
}

// Credentials returns the fixed local username and password.
func (h *Handle) Credentials() (username, password string) {
	return h.settings.Username, h.settings.Password
}

// Stats holds engine state for status endpoints.
type Stats struct {
	Status     string        `json:"status"`
	PID        int           `json:"pid,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
	Port       int           `json:"port"`
	Version    string        `json:"version,omitempty"`
	DataDir    string        `json:"data_dir"`
	BinaryDir  string        `json:"binary_dir"`
	Persistent bool          `json:"persistent"`
	LastError  string        `json:"last_error,omitempty"`
}

// Stats returns current engine statistics.
func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{
		Status:     string(process.StatusStopped),
		Port:       h.settings.Port,
		Version:    h.settings.Version,
		DataDir:    h.settings.StorageDir,
		BinaryDir:  h.binDir,
		Persistent: h.settings.Persistent,
	}
	if h.proc != nil {
		ps := h.proc.Stats()
		stats.Status = string(ps.Status)
		stats.PID = ps.PID
		stats.Uptime = ps.Uptime
		stats.LastError = ps.LastError
	}
	return stats
}
