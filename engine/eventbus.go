package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"levelkit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// anyEvent is the subscription key for handlers registered with SubscribeAll.
const anyEvent core.EventType = "*"

type handler struct {
	id int64
	fn func(context.Context, core.Event)
}

// BusOption tunes the async dispatcher.
type BusOption func(*EventBus)

// WithQueueSize sets how many events may wait for an async worker.
func WithQueueSize(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithWorkers sets the number of async delivery goroutines.
func WithWorkers(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.workers = n
		}
	}
}

// EventBus fans events out to subscribers. Handlers for one event run in
// registration order, typed handlers before SubscribeAll handlers. In async
// mode a full queue drops the event rather than blocking the publisher.
type EventBus struct {
	mode      DispatchMode
	queueSize int
	workers   int

	mu     sync.RWMutex
	lastID int64
	byType map[core.EventType][]handler

	// gate guards queue against sends after close
	gate    sync.RWMutex
	closed  bool
	queue   chan core.Event
	running sync.WaitGroup
	dropped atomic.Int64
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	e := &EventBus{
		mode:      mode,
		queueSize: 2048,
		workers:   4,
		byType:    make(map[core.EventType][]handler),
	}
	for _, o := range opts {
		o(e)
	}
	if mode == DispatchAsync {
		e.queue = make(chan core.Event, e.queueSize)
		e.running.Add(e.workers)
		for range e.workers {
			go e.work()
		}
	}
	return e
}

func (e *EventBus) work() {
	defer e.running.Done()
	for ev := range e.queue {
		e.deliver(context.Background(), ev)
	}
}

// Close stops accepting events, delivers whatever is already queued and
// waits for the workers to exit. It is safe to call more than once.
func (e *EventBus) Close() {
	e.gate.Lock()
	if e.closed {
		e.gate.Unlock()
		return
	}
	e.closed = true
	if e.queue != nil {
		close(e.queue)
	}
	e.gate.Unlock()
	e.running.Wait()
}

// Dropped returns how many async events were discarded because the queue was full.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

// Subscribe registers fn for one event type and returns its unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func() {
	e.mu.Lock()
	e.lastID++
	id := e.lastID
	e.byType[typ] = append(e.byType[typ], handler{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.byType[typ] = slices.DeleteFunc(slices.Clone(e.byType[typ]), func(h handler) bool { return h.id == id })
		})
	}
}

// SubscribeAll registers fn for every event type.
func (e *EventBus) SubscribeAll(fn func(context.Context, core.Event)) func() {
	return e.Subscribe(anyEvent, fn)
}

// Publish delivers ev inline in sync mode or queues it in async mode.
// Events published after Close are ignored.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode != DispatchAsync {
		e.deliver(ctx, ev)
		return
	}
	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
	}
}

func (e *EventBus) deliver(ctx context.Context, ev core.Event) {
	// handler slices are replaced, never mutated, so the snapshot stays valid
	e.mu.RLock()
	typed, wildcard := e.byType[ev.Type], e.byType[anyEvent]
	e.mu.RUnlock()
	for _, h := range typed {
		h.fn(ctx, ev)
	}
	for _, h := range wildcard {
		h.fn(ctx, ev)
	}
}
