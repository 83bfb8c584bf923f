package mqtt

import (
	"sync"
	"sync/atomic"
)

const defaultEmitterQueue = 1024

// Publisher is the subset of Client used by Emitter.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type message struct {
	topic   string
	payload []byte
}

// Emitter publishes pushed events to MQTT. Emit never blocks: events are
// queued and published in order by one goroutine, and dropped when the
// queue is full.
type Emitter struct {
	pub    Publisher
	topics Topics
	qos    byte
	logger Logger

	queue   chan message
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewEmitter starts an emitter publishing through pub. queueSize <= 0
// selects a default.
func NewEmitter(pub Publisher, topics Topics, qos byte, queueSize int, logger Logger) *Emitter {
	if queueSize <= 0 {
		queueSize = defaultEmitterQueue
	}
	e := &Emitter{
		pub:    pub,
		topics: topics,
		qos:    qos,
		logger: logger,
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues payload for the topic derived from event.
func (e *Emitter) Emit(event string, payload []byte) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- message{topic: e.topics.Event(event), payload: payload}:
	default:
		if e.dropped.Add(1) == 1 && e.logger != nil {
			e.logger.Warn("MQTT emitter queue full, dropping events", "event", event)
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Emitter) run() {
	defer close(e.done)
	for msg := range e.queue {
		if err := e.pub.Publish(msg.topic, msg.payload, e.qos, false); err != nil && e.logger != nil {
			e.logger.Warn("MQTT publish failed", "topic", msg.topic, "error", err)
		}
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (e *Emitter) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return ErrEmitterClosed
	}
	e.closed = true
	close(e.queue)
	e.closeMu.Unlock()

	<-e.done
	return nil
}
