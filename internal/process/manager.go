package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrAlreadyRunning is returned by Start when the process is starting or running.
var ErrAlreadyRunning = errors.New("process: already running")

const (
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	healthCheckTimeout         = 5 * time.Second
	maxConsecutiveFailures     = 3
)

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	Args []string

	// Env are additional environment variables (key=value), appended to the
	// parent environment. Nil inherits the parent environment unchanged.
	Env []string

	// WorkDir is the working directory. Empty inherits the parent's.
	WorkDir string

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is called every HealthCheckInterval while running.
	// After three consecutive failures the process is killed.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager manages the lifecycle of one subprocess. A process that exits
// is not respawned; the owner decides whether to Start again.
type Manager struct {
	config Config
	logger Logger
	output *tail

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	lastError     error
	startTime     time.Time
	stopRequested bool

	// done is closed when the monitor gives up on the process.
	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		output: newTail(tailLines),
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and begins monitoring it.
//
// It returns ErrAlreadyRunning if the process is already starting or
// running; the existing process is left untouched.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.lastError = nil
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.monitor(ctx, done)

	return nil
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary path comes from trusted configuration

	// New process group so the whole tree can be signalled on shutdown.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = m.config.GracefulTimeout

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	cmd.Stdout = newLineWriter(m, "stdout")
	cmd.Stderr = newLineWriter(m, "stderr")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// waitForExitOrHealthFailure waits for the process to exit, killing it if
// the health check fails repeatedly.
func (m *Manager) waitForExitOrHealthFailure(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if m.config.HealthCheckFunc == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered",
						"name", m.config.Name,
						"previous_failures", failures,
					)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < maxConsecutiveFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process",
				"name", m.config.Name,
				"failures", failures,
			)
			_ = signalGroup(cmd, syscall.SIGKILL) //nolint:errcheck // Exit is observed via exitCh
			<-exitCh
			return fmt.Errorf("killed after %d consecutive health check failures", failures)
		}
	}
}

// monitor records how the process ended and closes done.
func (m *Manager) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.mu.RLock()
	cmd := m.cmd
	m.mu.RUnlock()

	err := m.waitForExitOrHealthFailure(ctx, cmd)

	m.mu.Lock()
	stopRequested := m.stopRequested
	if stopRequested {
		m.status = StatusStopped
	} else {
		m.status = StatusFailed
		if err == nil {
			err = errors.New("exited with status 0")
		}
		m.lastError = err
	}
	m.mu.Unlock()

	if stopRequested {
		m.logger.Info("process stopped as requested", "name", m.config.Name)
		return
	}
	m.logger.Warn("process exited unexpectedly",
		"name", m.config.Name,
		"error", err,
		"output", m.output.String(),
	)
}

// Stop gracefully stops the subprocess: SIGTERM to the process group, then
// SIGKILL after GracefulTimeout. It is a no-op when nothing is running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusStarting {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	m.logger.Info("stopping process", "name", m.config.Name, "pid", cmd.Process.Pid)

	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}

	<-done
	m.logger.Info("process killed", "name", m.config.Name)
	return nil
}

// Done returns a channel closed once the process has exited, whether
// stopped or failed. It returns nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// signalGroup signals the process group created via Setpgid.
// A process that is already gone is not an error.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error that caused the last unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Uptime returns how long the process has been running, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if never started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Output returns the last captured output lines, oldest first.
func (m *Manager) Output() []string {
	return m.output.Lines()
}

// Stats describes the managed process.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:   m.config.Name,
		Status: m.status,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
