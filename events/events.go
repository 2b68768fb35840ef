package events

import (
	"sync"
	"sync/atomic"
	"time"

	"cosmossdk.io/log"

	"github.com/quorumfeed/quorumfeed/metrics"
)

// Severity classifies an event for downstream filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single engine notification. Attributes use the snake_case keys
// from the types package.
type Event struct {
	Type       string            `json:"type"`
	Severity   Severity          `json:"severity"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Subscriber receives events from emitter workers. Subscribers must not
// block; slow consumers back-pressure the shared drain pool.
type Subscriber func(Event)

// Emitter is an asynchronous in-process event bus. Emit never blocks the
// caller: events queue into a bounded buffer drained by worker goroutines,
// and overflow is counted and dropped rather than stalling submissions.
type Emitter struct {
	logger  log.Logger
	ch      chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	subs    []Subscriber
	dropped atomic.Uint64
	once    sync.Once
}

// NewEmitter starts workers goroutines draining a buffer of bufferSize.
func NewEmitter(logger log.Logger, bufferSize, workers int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	e := &Emitter{
		logger: logger.With("module", "events"),
		ch:     make(chan Event, bufferSize),
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.drain()
	}
	return e
}

func (e *Emitter) drain() {
	defer e.wg.Done()
	for evt := range e.ch {
		e.mu.RLock()
		subs := e.subs
		e.mu.RUnlock()
		for _, sub := range subs {
			sub(evt)
		}
	}
}

// Subscribe registers a consumer for all subsequent events.
func (e *Emitter) Subscribe(sub Subscriber) {
	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()
}

// Emit enqueues an event, dropping it when the buffer is full.
func (e *Emitter) Emit(eventType string, severity Severity, attrs map[string]string) {
	evt := Event{
		Type:       eventType,
		Severity:   severity,
		Attributes: attrs,
		Timestamp:  time.Now(),
	}
	select {
	case e.ch <- evt:
	default:
		n := e.dropped.Add(1)
		metrics.Get().EventsDropped.Set(float64(n))
		if n%100 == 1 {
			e.logger.Warn("event buffer full, dropping", "type", eventType, "dropped_total", n)
		}
	}
}

// Dropped returns the count of events discarded due to buffer overflow.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops the workers after the buffer drains. Emit after Close panics;
// callers stop producers first.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.ch)
		e.wg.Wait()
	})
}
