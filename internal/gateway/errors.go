package gateway

import (
	"errors"
	"fmt"
)

// ErrUnknownFormat is returned when a wire format name is not recognised.
var ErrUnknownFormat = errors.New("gateway: unknown format")

// ConnectError reports that a connection to a database could not be opened.
type ConnectError struct {
	Op       string // "parse" or "connect"
	Database string
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Op == "parse" {
		return fmt.Sprintf("connecting to database %q: invalid connection string: %v", e.Database, e.Err)
	}
	return fmt.Sprintf("connecting to database %q: %v", e.Database, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
