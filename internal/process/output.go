package process

import (
	"bytes"
	"strings"
	"sync"
)

// tailLines is how many output lines a Manager keeps for error reports.
const tailLines = 20

// maxLineLength bounds a buffered partial line.
const maxLineLength = 4096

// tail is a fixed-size ring of recent output lines.
type tail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newTail(n int) *tail {
	return &tail{lines: make([]string, n)}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the kept lines, oldest first.
func (t *tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		out := make([]string, t.next)
		copy(out, t.lines[:t.next])
		return out
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	out = append(out, t.lines[:t.next]...)
	return out
}

func (t *tail) String() string {
	return strings.Join(t.Lines(), "\n")
}

// lineWriter splits a child's output stream into lines, logging each at
// debug level and keeping it in the manager's tail.
type lineWriter struct {
	m      *Manager
	stream string
	buf    []byte
}

func newLineWriter(m *Manager, stream string) *lineWriter {
	return &lineWriter{m: m, stream: stream}
}

// Write is only ever called from exec's copy goroutine for this stream.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *lineWriter) emit(line string) {
	if line == "" {
		return
	}
	w.m.output.add(line)
	w.m.logger.Debug("process output",
		"name", w.m.config.Name,
		"stream", w.stream,
		"line", line,
	)
}
