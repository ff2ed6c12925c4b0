package event

import (
	"sync"
	"sync/atomic"
)

// Buffered runs a slow listener on its own goroutine.
//
// Events are queued up to the buffer size; when the buffer is full the event is dropped
// and counted, the I/O goroutine never waits.
type Buffered struct {
	ch      chan Event
	fn      Listener
	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

// NewBuffered starts the delivery goroutine of fn.
func NewBuffered(fn Listener, size int) *Buffered {
	if size < 1 {
		size = 1
	}
	b := &Buffered{
		ch:   make(chan Event, size),
		fn:   fn,
		done: make(chan struct{}),
	}
	go b.run()

	return b
}

// Listener returns the function to register.
func (b *Buffered) Listener() Listener {
	return b.enqueue
}

// Dropped returns the number of events dropped on a full buffer.
func (b *Buffered) Dropped() uint64 { return b.dropped.Load() }

// Close stops accepting events and waits until queued events were delivered.
// The listener must be unregistered first.
func (b *Buffered) Close() {
	b.once.Do(func() { close(b.ch) })
	<-b.done
}

func (b *Buffered) enqueue(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

func (b *Buffered) run() {
	defer close(b.done)
	for ev := range b.ch {
		b.fn(ev)
	}
}
