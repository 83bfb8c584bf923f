package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pgdesk/internal/terminal"
)

// terminalSink receives one traffic sample per interval.
// *influxdb.Client satisfies it.
type terminalSink interface {
	WriteTerminalMetric(bytesIn, bytesOut int, rows, cols uint16)
}

// ptySession is the part of terminal.Session the meter wraps.
type ptySession interface {
	Write(p []byte) error
	Resize(rows, cols uint16) error
	Size() (rows, cols uint16)
}

// trafficMeter counts bytes written to and emitted from the terminal and
// flushes the per-interval totals to a sink. It wraps the session for the
// actions and sits in the pump's emitter chain.
type trafficMeter struct {
	ptySession
	in  atomic.Int64
	out atomic.Int64
}

func newTrafficMeter(s ptySession) *trafficMeter {
	return &trafficMeter{ptySession: s}
}

// Write counts input bytes that reached the shell.
func (m *trafficMeter) Write(p []byte) error {
	if err := m.ptySession.Write(p); err != nil {
		return err
	}
	m.in.Add(int64(len(p)))
	return nil
}

// Emit counts terminal output.
func (m *trafficMeter) Emit(event string, payload []byte) {
	if event == terminal.EventData {
		m.out.Add(int64(len(payload)))
	}
}

// flush writes the totals since the last flush. Idle intervals are skipped.
func (m *trafficMeter) flush(sink terminalSink) {
	in, out := m.in.Swap(0), m.out.Swap(0)
	if in == 0 && out == 0 {
		return
	}
	rows, cols := m.Size()
	sink.WriteTerminalMetric(int(in), int(out), rows, cols)
}

// run flushes every interval until ctx is done, then once more.
func (m *trafficMeter) run(ctx context.Context, sink terminalSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.flush(sink)
			return
		case <-ticker.C:
			m.flush(sink)
		}
	}
}
