package pgembed

import (
	"errors"
	"fmt"
)

var (
	// ErrPortInUse is returned by Start when something already listens on the port.
	ErrPortInUse = errors.New("pgembed: port already in use")

	// ErrNotRunning is returned by schema operations on an engine that is not running.
	ErrNotRunning = errors.New("pgembed: engine not running")

	// ErrLocked is returned by Setup when another process holds the storage directory.
	ErrLocked = errors.New("pgembed: storage directory locked by another process")

	// ErrStartTimeout is returned by Start when the engine does not accept
	// connections within Settings.StartTimeout.
	ErrStartTimeout = errors.New("pgembed: timed out waiting for engine")

	// ErrStopped is returned by Start after Stop has released the handle.
	ErrStopped = errors.New("pgembed: handle stopped")

	// ErrUnsupportedPlatform is returned when no binaries exist for GOOS/GOARCH.
	ErrUnsupportedPlatform = errors.New("pgembed: unsupported platform")
)

// ProvisionError reports a failure while preparing binaries, credentials or storage.
type ProvisionError struct {
	Op  string
	Err error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning engine (%s): %v", e.Op, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// StartError reports a failure to launch the engine or to see it become ready.
type StartError struct {
	Op  string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting engine (%s): %v", e.Op, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// InitError reports a failure while creating or migrating a database.
type InitError struct {
	Op       string
	Database string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialising database %q (%s): %v", e.Database, e.Op, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
