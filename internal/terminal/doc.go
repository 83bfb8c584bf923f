// Package terminal hosts an interactive shell on a pseudo-terminal and
// pushes its output to listeners.
//
// A Session owns the child shell and the PTY master. Writes and resizes are
// serialised on one mutex; output is read by exactly one Pump, which
// forwards every chunk as a "terminal.data" event to an Emitter. Chunk
// boundaries carry no meaning, only byte order does.
//
// Usage:
//
//	s, err := terminal.Spawn(ctx, terminal.Options{Rows: 24, Cols: 80})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	pump := terminal.NewPump(s.Reader(), hub, terminal.PumpOptions{})
//	go pump.Run(ctx)
//
//	s.Write([]byte("ls\n"))
package terminal
