package terminal

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

const (
	defaultRows = 24
	defaultCols = 80
)

// Options configures Spawn.
type Options struct {
	Rows uint16
	Cols uint16

	// Shell overrides DefaultShell.
	Shell string
	Args  []string

	// Env is appended to the current environment.
	Env []string
	Dir string
}

func (o *Options) applyDefaults() {
	if o.Rows == 0 {
		o.Rows = defaultRows
	}
	if o.Cols == 0 {
		o.Cols = defaultCols
	}
	if o.Shell == "" {
		o.Shell = DefaultShell()
	}
}

// Session is a shell running on a PTY.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	rows   uint16
	cols   uint16
	closed bool

	done    chan struct{}
	exitErr error
}

// Spawn opens a PTY of the given geometry and starts the shell on it. The
// shell is not tied to ctx; it runs until it exits or Close is called.
func Spawn(ctx context.Context, opts Options) (*Session, error) {
	opts.applyDefaults()
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Op: "start", Shell: opts.Shell, Err: err}
	}

	cmd := exec.Command(opts.Shell, opts.Args...) //nolint:gosec // Shell is operator configuration
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "TERM="+termType)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, &SpawnError{Op: "start", Shell: opts.Shell, Err: err}
	}

	s := &Session{
		cmd:  cmd,
		ptmx: ptmx,
		rows: opts.Rows,
		cols: opts.Cols,
		done: make(chan struct{}),
	}
	go s.wait()
	return s, nil
}

// wait reaps the child. The shell is not respawned.
func (s *Session) wait() {
	s.exitErr = s.cmd.Wait()
	close(s.done)
}

// Reader returns the PTY output. Exactly one Pump should consume it.
func (s *Session) Reader() io.Reader {
	return s.ptmx
}

// Write sends input to the shell.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &WriteError{Op: "write", Err: ErrClosed}
	}
	n, err := s.ptmx.Write(p)
	if err != nil {
		return &WriteError{Op: "write", Written: n, Err: err}
	}
	return nil
}

// Resize changes the PTY geometry. It takes effect before Resize returns
// and never interleaves with a Write.
func (s *Session) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return &ResizeError{Op: "resize", Rows: rows, Cols: cols, Err: ErrInvalidSize}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ResizeError{Op: "resize", Rows: rows, Cols: cols, Err: ErrClosed}
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return &ResizeError{Op: "resize", Rows: rows, Cols: cols, Err: err}
	}
	s.rows, s.cols = rows, cols
	return nil
}

// Size returns the last geometry set by Spawn or Resize.
func (s *Session) Size() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// PID returns the shell's process ID.
func (s *Session) PID() int {
	return s.cmd.Process.Pid
}

// Done is closed once the shell has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the shell's exit error once Done is closed, nil before.
func (s *Session) ExitErr() error {
	select {
	case <-s.done:
		return s.exitErr
	default:
		return nil
	}
}

// Close kills the shell if it is still running and closes the PTY, which
// ends the Pump. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case <-s.done:
	default:
		_ = s.cmd.Process.Kill() //nolint:errcheck // May already be exiting
	}
	return s.ptmx.Close()
}
