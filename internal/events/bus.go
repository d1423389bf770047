package events

import (
	"sync"
	"time"
)

// sinkBufferSize is the per-sink queue length. Events are dropped when a
// sink falls this far behind.
const sinkBufferSize = 256

// Logger is the subset of logging.Logger the bus uses.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink forwards events out of the process (MQTT, telemetry).
type Sink interface {
	Name() string
	Handle(e Event) error
}

// Bus fans events out to in-process subscribers and to sinks.
//
// Subscribers run synchronously on the publishing goroutine and must not
// block. Each sink gets its own queue and goroutine so a slow broker never
// stalls a Bluetooth callback.
type Bus struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]func(Event)
	sinks  []*sinkQueue
	closed bool
	wg     sync.WaitGroup

	logger Logger
	now    func() time.Time
}

var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[uint64]func(Event)),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for sink failures and dropped events.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Publish stamps and delivers an event.
func (b *Bus) Publish(eventType string, payload any) {
	e := Event{Type: eventType, Timestamp: b.now().UTC(), Payload: payload}

	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	if !b.closed {
		for _, q := range b.sinks {
			q.enqueue(e)
		}
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, e)
	}
}

func (b *Bus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.getLogger().Error("event subscriber panic recovered", "type", e.Type, "panic", r)
		}
	}()
	fn(e)
}

// Subscribe registers fn for every event and returns its unsubscribe
// function. Unsubscribe is idempotent.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// AddSink starts forwarding events to s. Sinks added after Close are
// ignored.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	q := &sinkQueue{sink: s, ch: make(chan Event, sinkBufferSize), bus: b}
	b.sinks = append(b.sinks, q)
	b.wg.Add(1)
	go q.run(&b.wg)
}

// Close stops accepting sink events and waits for queued events to drain.
// In-process subscribers keep receiving events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.sinks {
		close(q.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) getLogger() Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logger
}

type sinkQueue struct {
	sink Sink
	ch   chan Event
	bus  *Bus
}

// enqueue is called with the bus read lock held.
func (q *sinkQueue) enqueue(e Event) {
	select {
	case q.ch <- e:
	default:
		q.bus.logger.Warn("event sink queue full, dropping event", "sink", q.sink.Name(), "type", e.Type)
	}
}

func (q *sinkQueue) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for e := range q.ch {
		q.handle(e)
	}
}

func (q *sinkQueue) handle(e Event) {
	defer func() {
		if r := recover(); r != nil {
			q.bus.getLogger().Error("event sink panic recovered", "sink", q.sink.Name(), "type", e.Type, "panic", r)
		}
	}()
	if err := q.sink.Handle(e); err != nil {
		q.bus.getLogger().Warn("event sink failed", "sink", q.sink.Name(), "type", e.Type, "error", err)
	}
}
