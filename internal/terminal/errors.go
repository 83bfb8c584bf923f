package terminal

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when a Session is used after Close.
	ErrClosed = errors.New("terminal: session closed")

	// ErrInvalidSize is returned for a zero row or column count.
	ErrInvalidSize = errors.New("terminal: rows and cols must be non-zero")
)

// SpawnError reports that the PTY or the shell could not be started.
type SpawnError struct {
	Op    string
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("terminal spawn %s (%s): %v", e.Op, e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WriteError reports a failed or partial write to the PTY.
type WriteError struct {
	Op      string
	Written int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("terminal %s: wrote %d bytes: %v", e.Op, e.Written, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ResizeError reports that the PTY geometry could not be changed.
type ResizeError struct {
	Op   string
	Rows uint16
	Cols uint16
	Err  error
}

func (e *ResizeError) Error() string {
	return fmt.Sprintf("terminal %s to %dx%d: %v", e.Op, e.Rows, e.Cols, e.Err)
}

func (e *ResizeError) Unwrap() error { return e.Err }
