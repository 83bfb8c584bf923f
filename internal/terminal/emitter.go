package terminal

import "bytes"

// EventData is the event name for PTY output.
const EventData = "terminal.data"

// Emitter receives pushed events. Implementations must not block for long.
// The payload belongs to the emitter: the Pump allocates a fresh chunk per
// read and MultiEmitter copies it for each emitter.
type Emitter interface {
	Emit(event string, payload []byte)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload []byte)

// Emit calls f.
func (f EmitterFunc) Emit(event string, payload []byte) {
	f(event, payload)
}

// MultiEmitter fans an event out to every emitter in order.
type MultiEmitter []Emitter

// Emit forwards a separate copy of payload to each emitter.
func (m MultiEmitter) Emit(event string, payload []byte) {
	for _, e := range m {
		if e != nil {
			e.Emit(event, bytes.Clone(payload))
		}
	}
}
