package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/internal/pool"
	"github.com/arloliu/go-cnc/internal/task"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	closeTimeout      = 3 * time.Second
	retryDelayFactor  = 2
	minStatusStaleAge = time.Second
)

// Controller is the engine talking to one CNC controller board.
type Controller struct {
	cfg      *Config
	logger   logger.Logger
	stateMgr *machine.StateMgr
	registry *event.Registry
	settings *xsync.MapOf[string, string]
	status   atomic.Pointer[machine.MachineStatus]
	metrics  Metrics

	connMu sync.Mutex // serializes Connect, Disconnect and reconnection
	sessMu sync.RWMutex
	sess   *session

	bgTasks  *task.Manager // reconnector
	shutdown atomic.Bool
	gen      atomic.Uint64 // bumped by explicit Connect and Disconnect to stop a reconnection
}

// New creates a Controller in the Disconnected state.
func New(opts ...Option) (*Controller, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	l := cfg.logger.With("component", "controller")
	c := &Controller{
		cfg:      cfg,
		logger:   l,
		registry: event.NewRegistry(l),
		settings: xsync.NewMapOf[string, string](),
		bgTasks:  task.NewManager(cfg.ctx, l),
	}
	c.status.Store(machine.NewStatus())
	c.stateMgr = machine.NewStateMgr(l, c.onStateChange)

	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() *Config { return c.cfg }

// State returns the controller state.
func (c *Controller) State() machine.State { return c.stateMgr.State() }

// WaitState blocks until the controller reaches state or ctx is done.
func (c *Controller) WaitState(ctx context.Context, state machine.State) error {
	return c.stateMgr.WaitState(ctx, state)
}

// Status returns the latest status snapshot. The snapshot must not be modified.
func (c *Controller) Status() *machine.MachineStatus { return c.status.Load() }

// Metrics returns the controller metrics.
func (c *Controller) Metrics() *Metrics { return &c.metrics }

// Settings returns a copy of the settings cache filled by ReadSettings and WriteSetting.
func (c *Controller) Settings() map[string]string {
	out := make(map[string]string, c.settings.Size())
	c.settings.Range(func(key, value string) bool {
		out[key] = value
		return true
	})

	return out
}

// RegisterListener adds a listener for every event of the controller.
func (c *Controller) RegisterListener(fn event.Listener) event.Handle {
	return c.registry.Register(fn)
}

// UnregisterListener removes a listener. It returns false for an unknown handle.
func (c *Controller) UnregisterListener(h event.Handle) bool {
	return c.registry.Unregister(h)
}

// ListenerPanics returns the number of recovered listener panics.
func (c *Controller) ListenerPanics() uint64 { return c.registry.Panics() }

// Connect opens the transport described by tcfg and waits until the firmware identified
// itself with its startup banner.
func (c *Controller) Connect(ctx context.Context, tcfg *transport.Config) error {
	if tcfg == nil {
		return errors.New("controller: transport config is nil")
	}
	c.gen.Add(1)

	return c.connect(ctx, tcfg)
}

// Disconnect ends the session. Pending requests fail with ErrSessionClosed.
func (c *Controller) Disconnect() error {
	c.gen.Add(1)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if s := c.current(); s != nil {
		s.close()
	}

	return nil
}

// Close disconnects and stops any reconnection. The controller cannot be reused.
func (c *Controller) Close() error {
	c.shutdown.Store(true)
	c.bgTasks.Stop()
	err := c.Disconnect()
	c.bgTasks.Wait()

	return err
}

func (c *Controller) connect(ctx context.Context, tcfg *transport.Config) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.shutdown.Load() {
		return ErrClosed
	}
	if c.current() != nil {
		return ErrAlreadyConnected
	}
	if err := c.stateMgr.To(machine.Connecting); err != nil {
		return err
	}

	c.logger.Debug("open transport", "addr", tcfg.Address(), "kind", tcfg.Kind())
	tr, err := c.cfg.opener(ctx, tcfg)
	if err != nil {
		c.stateMgr.Reset()
		return err
	}

	s := newSession(c, tr, tcfg)
	c.setSession(s)
	if err := s.start(); err != nil {
		s.teardown(err, false)
		return err
	}

	if err := s.handshake(ctx); err != nil {
		s.close()
		return err
	}

	return nil
}

func (c *Controller) current() *session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()

	return c.sess
}

func (c *Controller) setSession(s *session) {
	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()
}

func (c *Controller) clearSession(s *session) {
	c.sessMu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.sessMu.Unlock()
}

// do runs fn on the I/O loop of the current session and returns its error.
func (c *Controller) do(ctx context.Context, fn func(s *session) error) (*session, error) {
	s := c.current()
	if s == nil {
		return nil, machine.ErrNotConnected
	}

	reply := make(chan error, 1)
	req := func(s *session) { reply <- fn(s) }

	select {
	case s.requests <- req:
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-reply:
		return s, err
	case <-s.done:
		select {
		case err := <-reply:
			return s, err
		default:
			return nil, ErrSessionClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doTimeout is do bounded by the request timeout.
func (c *Controller) doTimeout(fn func(s *session) error) (*session, error) {
	ctx, cancel := context.WithTimeout(c.cfg.ctx, c.cfg.requestTimeout)
	defer cancel()

	return c.do(ctx, fn)
}

// await waits for the reply of a command submitted through do.
func await[T any](ctx context.Context, s *session, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrSessionClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Controller) emit(ev event.Event) {
	c.registry.Dispatch(ev)
}

func (c *Controller) publish(st *machine.MachineStatus) {
	c.status.Store(st)
}

func (c *Controller) onStateChange(prev, cur machine.State) {
	st := c.status.Load().WithState(cur, time.Now())
	if cur == machine.Disconnected {
		st = st.WithAlarm(nil, st.Timestamp)
	}
	c.publish(st)
	c.emit(event.MachineStateChanged{Previous: prev, Current: cur})
}

// scheduleReconnect starts the reconnector after a session failed.
func (c *Controller) scheduleReconnect(tcfg *transport.Config, cause error) {
	if c.cfg.reconnectAttempts == 0 || c.shutdown.Load() {
		return
	}

	gen := c.gen.Load()
	err := c.bgTasks.Go("reconnect", func(ctx context.Context) {
		c.reconnect(ctx, tcfg, gen, cause)
	})
	if err != nil {
		c.logger.Debug("reconnect not scheduled", "error", err)
	}
}

// reconnect retries Connect with exponential backoff until it succeeds, the attempts
// are exhausted, or an explicit Connect or Disconnect took over.
func (c *Controller) reconnect(ctx context.Context, tcfg *transport.Config, gen uint64, cause error) {
	defer c.metrics.resetReconnectGauge()

	delay := c.cfg.reconnectDelay
	lastErr := cause
	for attempt := 1; attempt <= c.cfg.reconnectAttempts; attempt++ {
		if c.shutdown.Load() || c.gen.Load() != gen {
			return
		}

		c.metrics.incReconnectGauge()
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay, "addr", tcfg.Address())
		c.emit(event.Reconnecting{Attempt: attempt, Delay: delay})

		if err := pool.Sleep(ctx, delay); err != nil {
			return
		}
		if c.shutdown.Load() || c.gen.Load() != gen {
			return
		}

		err := c.connect(ctx, tcfg)
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt, "addr", tcfg.Address())
			return
		}
		if errors.Is(err, ErrAlreadyConnected) || errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
		lastErr = err

		delay = min(delay*retryDelayFactor, MaxReconnectDelay)
	}

	c.logger.Error("reconnect failed", "attempts", c.cfg.reconnectAttempts, "error", lastErr)
	c.emit(event.ReconnectFailed{
		Attempts: c.cfg.reconnectAttempts,
		Err:      fmt.Errorf("controller: reconnect to %s: %w", tcfg.Address(), lastErr),
	})
}
