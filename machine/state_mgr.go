package machine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-cnc/logger"
)

// ChangeHandler is invoked after the controller state changes.
//
// Note: handlers run synchronously on the goroutine that changed the state.
// Take care with long-running implementations.
type ChangeHandler func(prev State, cur State)

// StateMgr manages the controller State.
//
// The state is stored atomically so any goroutine may read it, while transitions are
// expected to be driven by the single controller I/O goroutine.
//
// Alarm is latched: once entered it is only left through ReleaseAlarm (explicit unlock or
// reset) or Reset (teardown). Reports from the firmware never clear it.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	alarm    atomic.Pointer[AlarmRecord]
	logger   logger.Logger
	handlers []ChangeHandler
}

// NewStateMgr creates a StateMgr in the Disconnected state.
func NewStateMgr(l logger.Logger, handlers ...ChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &StateMgr{
		logger:   l,
		handlers: make([]ChangeHandler, 0, len(handlers)),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.state.Store(uint32(Disconnected))
	mgr.AddHandler(handlers...)

	return mgr
}

// State returns the current controller state.
func (m *StateMgr) State() State {
	return State(m.state.Load())
}

// AddHandler adds one or more ChangeHandler functions to be invoked on state changes.
func (m *StateMgr) AddHandler(handlers ...ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handlers...)
}

// WaitState waits for the state to reach state or until the context is done.
func (m *StateMgr) WaitState(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	for m.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.cond.Wait()
	}

	return nil
}

// To moves to next if the transition table permits it.
func (m *StateMgr) To(next State) error {
	cur := m.State()
	if cur == next {
		return nil
	}
	if m.alarm.Load() != nil && next != Disconnected {
		return fmt.Errorf("%w: %s -> %s", ErrAlarmActive, cur, next)
	}
	if !CanTransition(cur, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	m.set(cur, next)

	return nil
}

// Reset forces the Disconnected state and drops any latched alarm.
func (m *StateMgr) Reset() {
	m.alarm.Store(nil)
	if cur := m.State(); cur != Disconnected {
		m.set(cur, Disconnected)
	}
}

// Observe follows a state reported by the firmware and reports whether the state changed.
//
// Reports are ignored while not yet connected and while an alarm is latched.
// A reported Alarm without a preceding alarm code latches an anonymous alarm.
func (m *StateMgr) Observe(reported State) bool {
	cur := m.State()
	if !cur.IsConnected() || cur == reported {
		return false
	}
	if m.alarm.Load() != nil {
		if cur != Alarm {
			m.set(cur, Alarm)
			return true
		}
		return false
	}
	if reported == Alarm {
		m.RaiseAlarm(AlarmRecord{RaisedAt: time.Now()})
		return true
	}
	if !CanTransition(cur, reported) {
		m.logger.Debug("firmware reported state outside transition table", "from", cur, "to", reported)
	}
	m.set(cur, reported)

	return true
}

// RaiseAlarm latches a and moves to Alarm.
func (m *StateMgr) RaiseAlarm(a AlarmRecord) {
	if a.RaisedAt.IsZero() {
		a.RaisedAt = time.Now()
	}
	if prev := m.alarm.Load(); prev != nil && a.Code == 0 {
		a = *prev
	}
	m.alarm.Store(&a)
	if cur := m.State(); cur != Alarm {
		m.set(cur, Alarm)
	}
}

// ReleaseAlarm clears the latched alarm after an explicit unlock or reset and moves to next.
func (m *StateMgr) ReleaseAlarm(next State) {
	m.alarm.Store(nil)
	if cur := m.State(); cur != next {
		m.set(cur, next)
	}
}

// Alarm returns the latched alarm, if any.
func (m *StateMgr) Alarm() (AlarmRecord, bool) {
	if a := m.alarm.Load(); a != nil {
		return *a, true
	}
	return AlarmRecord{}, false
}

// Allow validates a user request against the current state.
//
// It returns ErrNotConnected before initialization, an *AlarmError when an alarm blocks the
// request, or a *TransitionError when the state does not permit it.
func (m *StateMgr) Allow(a Action) error {
	cur := m.State()
	if !cur.IsConnected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, a)
	}
	if alarm, latched := m.Alarm(); latched && !a.Permits(Alarm) {
		return &AlarmError{Action: a, Alarm: alarm}
	}
	if !a.Permits(cur) {
		return &TransitionError{From: cur, Action: a}
	}

	return nil
}

func (m *StateMgr) set(prev, next State) {
	m.mu.Lock()
	m.state.Store(uint32(next))
	m.cond.Broadcast()
	handlers := m.handlers
	m.mu.Unlock()

	m.logger.Debug("controller state changed", "prev", prev, "cur", next)
	for _, h := range handlers {
		if h != nil {
			h(prev, next)
		}
	}
}
