package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type published struct {
	topic   string
	payload string
	qos     byte
}

type fakePublisher struct {
	mu    sync.Mutex
	msgs  []published
	block chan struct{}
	err   error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, _ bool) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, payload: string(payload), qos: qos})
	return f.err
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

type recordingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *recordingLogger) Error(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func TestEmitter_PublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	em := NewEmitter(pub, NewTopics("pgdesk"), 1, 0, nil)

	em.Emit("terminal.data", []byte("a"))
	em.Emit("terminal.data", []byte("b"))
	em.Emit("query.executed", []byte(`{"ok":true}`))

	if err := em.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := pub.messages()
	want := []published{
		{"pgdesk/terminal/data", "a", 1},
		{"pgdesk/terminal/data", "b", 1},
		{"pgdesk/query/executed", `{"ok":true}`, 1},
	}
	if len(got) != len(want) {
		t.Fatalf("published %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	logger := &recordingLogger{}
	em := NewEmitter(pub, NewTopics("pgdesk"), 0, 2, logger)

	// One message may be held by the publishing goroutine, two fill the queue.
	for i := 0; i < 10; i++ {
		em.Emit("terminal.data", []byte("x"))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		em.Emit("terminal.data", []byte("y"))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	close(pub.block)
	if err := em.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if em.Dropped() < 7 {
		t.Errorf("Dropped() = %d, want at least 7", em.Dropped())
	}
	if got := len(pub.messages()) + int(em.Dropped()); got != 11 {
		t.Errorf("published+dropped = %d, want 11", got)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.warns != 1 {
		t.Errorf("warned %d times, want once", logger.warns)
	}
}

func TestEmitter_PublishErrorsAreLogged(t *testing.T) {
	pub := &fakePublisher{err: ErrNotConnected}
	logger := &recordingLogger{}
	em := NewEmitter(pub, NewTopics("pgdesk"), 0, 0, logger)

	em.Emit("terminal.data", []byte("x"))
	if err := em.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.warns != 1 {
		t.Errorf("warned %d times, want 1", logger.warns)
	}
}

func TestEmitter_CloseTwice(t *testing.T) {
	em := NewEmitter(&fakePublisher{}, NewTopics("pgdesk"), 0, 0, nil)

	if err := em.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := em.Close(); !errors.Is(err, ErrEmitterClosed) {
		t.Errorf("second Close() error = %v, want ErrEmitterClosed", err)
	}

	// Emit after Close is ignored
	em.Emit("terminal.data", []byte("late"))
}
