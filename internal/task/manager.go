// Package task runs and supervises the goroutines of a controller session.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-cnc/logger"
)

// ErrStopped is returned when a task is started on a stopped manager.
var ErrStopped = errors.New("task: manager already stopped")

// Func is a unit of work executed repeatedly by a Manager goroutine.
// It returns true to keep running, or false to stop the goroutine.
type Func func() bool

// CancelFunc is called once when a goroutine started by the Manager exits.
type CancelFunc func()

// Manager manages the lifecycle of the goroutines owned by one controller session:
// the I/O loop, the status poller and the reconnector.
//
// Stop cancels every running task; Wait blocks until they have returned and
// re-arms the manager so it can be reused for the next session.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("io", func() bool {
//	    return loop.step()
//	}, nil)
//	_, _ = mgr.StartInterval("poll", poll, 200*time.Millisecond, false)
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protect ctx and cancel
	taskMu  sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager with ctx as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context canceled by Stop.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn in a loop on a new goroutine until fn returns false or the manager stops.
// onExit, when non-nil, is called after the loop ends.
func (mgr *Manager) Start(name string, fn Func, onExit CancelFunc) error {
	mgr.logger.Debug("start task", "name", name)

	if err := mgr.checkRunning(); err != nil {
		return err
	}

	return mgr.spawn(name, func() {
		if onExit != nil {
			defer onExit()
		}
		mgr.runLoop(name, fn)
	})
}

// Go runs fn once on a new goroutine. fn receives the manager context.
func (mgr *Manager) Go(name string, fn func(ctx context.Context)) error {
	mgr.logger.Debug("start one-shot task", "name", name)

	if err := mgr.checkRunning(); err != nil {
		return err
	}
	ctx := mgr.Context()

	return mgr.spawn(name, func() {
		mgr.callWithRecover(name, func() { fn(ctx) })
	})
}

// StartInterval runs fn every interval until fn returns false or the manager stops.
// If runNow is true, fn is executed once on the caller goroutine before the interval starts.
func (mgr *Manager) StartInterval(name string, fn Func, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("task: invalid interval %v", interval)
	}
	if err := mgr.checkRunning(); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("task: interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow && !mgr.callWithRecoverBool(name, fn) {
		cleanup()
		return ticker, nil
	}

	ctx := mgr.Context()
	err := mgr.spawn(name, func() {
		defer cleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecoverBool(name, fn) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// StopInterval stops the interval task with the given name.
func (mgr *Manager) StopInterval(name string) error {
	if val, ok := mgr.tickers.LoadAndDelete(name); ok {
		if ticker, ok := val.(*time.Ticker); ok {
			ticker.Stop()
			return nil
		}
	}

	return fmt.Errorf("task: interval task %s not found", name)
}

// Stop signals all running goroutines.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}
		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate and re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) checkRunning() error {
	select {
	case <-mgr.Context().Done():
		return ErrStopped
	default:
		return nil
	}
}

// spawn starts body on a new goroutine and waits until it is running.
func (mgr *Manager) spawn(name string, body func()) error {
	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	started := make(chan struct{})
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()

		close(started)
		body()
	}()

	select {
	case <-started:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("task: timeout waiting for %s to start", name)
	}
}

func (mgr *Manager) runLoop(name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	ctx := mgr.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !fn() {
				return
			}
		}
	}
}

func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

func (mgr *Manager) callWithRecoverBool(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}
