package terminal

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"time"
)

const (
	defaultPollInterval = time.Millisecond
	defaultBufferSize   = 4096
)

// Logger is the logging interface used by the pump.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// PumpOptions configures a Pump.
type PumpOptions struct {
	// PollInterval is slept when a read returns no data. Default 1ms.
	PollInterval time.Duration

	// BufferSize is the maximum chunk size. Default 4096.
	BufferSize int

	Logger Logger
}

// Pump forwards everything read from a PTY to an Emitter.
type Pump struct {
	r       io.Reader
	emitter Emitter
	opts    PumpOptions
}

// NewPump creates a pump reading r.
func NewPump(r io.Reader, emitter Emitter, opts PumpOptions) *Pump {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Pump{r: r, emitter: emitter, opts: opts}
}

// Run reads until the PTY is gone or ctx is cancelled. It returns nil when
// the child side closes and ctx.Err() on cancellation. A read that is
// already blocked only notices cancellation once it returns, so callers
// close the Session to stop the pump promptly.
func (p *Pump) Run(ctx context.Context) error {
	buf := make([]byte, p.opts.BufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := p.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.emitter.Emit(EventData, chunk)
		}

		if err != nil {
			if isClosed(err) {
				p.opts.Logger.Debug("terminal output closed")
				return nil
			}
			p.opts.Logger.Warn("terminal read failed", "error", err)
			return err
		}

		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.PollInterval):
			}
		}
	}
}

// isClosed reports whether err means the child side of the PTY is gone.
// Linux reports EIO on the master once the last slave fd closes.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed)
}
