package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-cnc/logger"
	"github.com/google/uuid"
)

// Listener receives events. It runs on the controller I/O goroutine and must not block.
type Listener func(Event)

// Handle identifies a registered listener.
type Handle struct {
	id uuid.UUID
}

// IsZero reports whether h was never returned by Register.
func (h Handle) IsZero() bool { return h.id == uuid.Nil }

func (h Handle) String() string { return h.id.String() }

type entry struct {
	handle   Handle
	listener Listener
}

// Registry keeps listeners in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	logger  logger.Logger
	panics  atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(l logger.Logger) *Registry {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Registry{logger: l}
}

// Register adds fn and returns its handle.
func (r *Registry) Register(fn Listener) Handle {
	h := Handle{id: uuid.New()}

	r.mu.Lock()
	r.entries = append(r.entries, entry{handle: h, listener: fn})
	r.mu.Unlock()

	return h
}

// Unregister removes the listener of h. It returns false for an unknown handle.
func (r *Registry) Unregister(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.handle == h {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}

	return false
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Panics returns the number of listener panics recovered so far.
func (r *Registry) Panics() uint64 { return r.panics.Load() }

// Dispatch calls every listener in registration order.
// A panicking listener is logged and skipped.
func (r *Registry) Dispatch(ev Event) {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	for _, e := range entries {
		r.call(e, ev)
	}
}

func (r *Registry) call(e entry, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("listener panic", "listener", e.handle.String(), "event", ev.Kind().String(), "panic", fmt.Sprint(rec))
		}
	}()
	e.listener(ev)
}
