package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/internal/pool"
	"github.com/arloliu/go-cnc/internal/task"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/stream"
	"github.com/arloliu/go-cnc/transport"
)

type request func(s *session)

// capture collects the output received while an immediate command is the oldest
// outstanding command.
type capture struct {
	events []firmware.Event
}

// session is one connection to the controller. Fields without a comment are owned
// by the I/O loop.
type session struct {
	c      *Controller
	logger logger.Logger
	tr     transport.Transport
	tcfg   *transport.Config

	codec    firmware.Codec
	family   atomic.Uint32 // codec family, readable from any goroutine
	lines    firmware.LineAssembler
	streams  *stream.Manager
	captures map[*stream.Command]*capture

	taskMgr  *task.Manager
	requests chan request
	realtime chan firmware.Realtime

	statusPending atomic.Bool
	statusAskedAt atomic.Int64
	statusStale   time.Duration

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closing   atomic.Bool
	err       error // set before done is closed

	initializing  bool
	readBuf       *[]byte
	writeBuf      []byte
	writeErr      error
	lastProgress  time.Time
	resetDeadline time.Time
	stalled       bool
}

func newSession(c *Controller, tr transport.Transport, tcfg *transport.Config) *session {
	codec := firmware.NewCodec(c.cfg.family)
	capacity := codec.BufferCapacity()
	if c.cfg.capacity > 0 {
		capacity = c.cfg.capacity
	}

	l := c.logger.With("addr", tcfg.Address())
	s := &session{
		c:           c,
		logger:      l,
		tr:          tr,
		tcfg:        tcfg,
		codec:       codec,
		streams:     stream.NewManager(capacity, l),
		captures:    make(map[*stream.Command]*capture),
		taskMgr:     task.NewManager(c.cfg.ctx, l),
		requests:    make(chan request, c.cfg.requestQueueSize),
		realtime:    make(chan firmware.Realtime, c.cfg.realtimeQueue),
		statusStale: max(5*c.cfg.pollInterval, minStatusStaleAge),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		writeBuf:    make([]byte, 0, 512),
	}
	s.family.Store(uint32(codec.Family()))

	return s
}

func (s *session) start() error {
	s.readBuf = pool.GetReadBuf()
	if err := s.taskMgr.Start("io", s.step, s.releaseBuffers); err != nil {
		pool.PutReadBuf(s.readBuf)
		return err
	}

	if s.c.cfg.polling {
		if _, err := s.taskMgr.StartInterval("poll", s.poll, s.c.cfg.pollInterval, false); err != nil {
			return err
		}
	}

	return nil
}

func (s *session) releaseBuffers() {
	pool.PutReadBuf(s.readBuf)
}

// handshake waits for the startup banner, sending one soft reset when the firmware
// stays silent. Boards reached over a network do not reset on connect.
func (s *session) handshake(ctx context.Context) error {
	timeout := s.c.cfg.handshakeTimeout
	for attempt := 0; attempt < 2; attempt++ {
		timer := pool.GetTimer(timeout)
		select {
		case <-s.ready:
			pool.PutTimer(timer)
			return nil
		case <-s.done:
			pool.PutTimer(timer)
			if s.err != nil {
				return s.err
			}
			return ErrSessionClosed
		case <-ctx.Done():
			pool.PutTimer(timer)
			return ctx.Err()
		case <-timer.C:
			pool.PutTimer(timer)
		}

		if attempt == 0 {
			s.logger.Info("no startup banner, sending soft reset", "timeout", timeout)
			if err := s.queueRealtime(firmware.SoftReset); err != nil {
				s.logger.Warn("cannot queue soft reset", "error", err)
			}
		}
	}

	return ErrHandshakeTimeout
}

// finishHandshake marks the session initialized.
func (s *session) finishHandshake() {
	if s.closing.Load() {
		return
	}
	s.readyOnce.Do(func() {
		if err := s.c.stateMgr.To(machine.Idle); err != nil {
			s.logger.Debug("stay in current state after handshake", "state", s.c.stateMgr.State(), "error", err)
		}
		s.c.metrics.Connections.Add(1)

		info := s.c.Status().Firmware
		s.logger.Info("controller connected", "family", info.Family, "version", info.Version, "capacity", s.streams.Capacity())
		s.c.emit(event.Connected{Firmware: info, Port: s.tcfg.Address()})
		close(s.ready)
	})
}

func (s *session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// step is one iteration of the I/O loop.
func (s *session) step() bool {
	buf := *s.readBuf
	n, err := s.tr.TryRead(buf)
	if err != nil {
		return s.fail(err)
	}

	now := time.Now()
	if n > 0 {
		s.c.metrics.addReceived(n)
		// decoded line by line, a detected family takes over from the next line
		for _, line := range s.lines.Feed(buf[:n]) {
			for _, ev := range s.codec.DecodeLine(line) {
				s.handle(ev, now)
			}
		}
	}

	s.drainRealtime()
	s.drainRequests()
	s.checkReset(now)
	s.writeCommands(now)
	if s.writeErr != nil {
		return s.fail(s.writeErr)
	}
	s.checkStall(now)

	return true
}

func (s *session) drainRealtime() {
	for {
		select {
		case rt := <-s.realtime:
			if err := s.writeRealtime(rt); err != nil {
				s.logger.Warn("drop real-time command", "command", rt.String(), "error", err)
			}
		default:
			return
		}
	}
}

func (s *session) drainRequests() {
	for range cap(s.requests) {
		select {
		case req := <-s.requests:
			req(s)
		default:
			return
		}
	}
}

// writeCommands writes every command that fits the receive buffer in one write.
func (s *session) writeCommands(now time.Time) {
	if s.writeErr != nil {
		return
	}

	wasEmpty := s.streams.Pending().Len() == 0
	s.writeBuf = s.writeBuf[:0]
	lines := 0
	for {
		cmd, ok := s.streams.Take()
		if !ok {
			break
		}
		s.writeBuf = append(s.writeBuf, cmd.Encoded...)
		lines++
	}
	if lines == 0 {
		return
	}
	if wasEmpty {
		s.lastProgress = now
	}

	if s.logger.Level() == logger.DebugLevel {
		s.logger.Debug("write commands", "lines", lines, "bytes", len(s.writeBuf), "in_flight", s.streams.Pending().BytesInFlight())
	}
	if s.write(s.writeBuf) {
		s.c.metrics.addSent(len(s.writeBuf), lines)
	}
	s.syncQueueMetrics()
}

// writeRealtime writes a real-time command immediately, ahead of any queued line.
func (s *session) writeRealtime(rt firmware.Realtime) error {
	b, err := s.codec.EncodeRealtime(rt)
	if err != nil {
		return err
	}
	if rt == firmware.StatusQuery {
		s.statusAskedAt.Store(time.Now().UnixNano())
	}
	if !s.write(b) {
		return s.writeErr
	}
	s.c.metrics.addRealtime(len(b))

	return nil
}

// write sends p and records the first failure for the loop.
func (s *session) write(p []byte) bool {
	if s.writeErr != nil {
		return false
	}
	if _, err := s.tr.Write(p); err != nil {
		s.writeErr = err
		return false
	}

	return true
}

// queueRealtime hands a real-time command to the loop from any goroutine.
func (s *session) queueRealtime(rt firmware.Realtime) error {
	select {
	case s.realtime <- rt:
		return nil
	default:
		return ErrRealtimeQueueFull
	}
}

// requestStatus queues a status query unless one is still unanswered.
func (s *session) requestStatus() {
	if s.statusPending.Load() {
		age := time.Duration(time.Now().UnixNano() - s.statusAskedAt.Load())
		if age < s.statusStale {
			return
		}
		s.logger.Debug("status query unanswered, asking again", "age", age)
	}

	s.statusPending.Store(true)
	s.statusAskedAt.Store(time.Now().UnixNano())
	if err := s.queueRealtime(firmware.StatusQuery); err != nil {
		s.statusPending.Store(false)
	}
}

func (s *session) poll() bool {
	if s.c.stateMgr.State().IsConnected() {
		s.requestStatus()
	}
	return true
}

// checkReset ends the reset phase when the firmware never announced it with a banner.
func (s *session) checkReset(now time.Time) {
	if !s.streams.Resetting() || s.resetDeadline.IsZero() || now.Before(s.resetDeadline) {
		return
	}

	s.logger.Debug("reset settle elapsed", "discarded", s.streams.Discarded())
	s.streams.ResetComplete()
	s.resetDeadline = time.Time{}
	s.settleIdle()
}

// enterReset starts discarding responses after a soft reset or an alarm.
func (s *session) enterReset(now time.Time) *stream.Job {
	job := s.streams.Cancel()
	s.resetDeadline = now.Add(s.c.cfg.resetSettle)
	s.stalled = false
	s.syncQueueMetrics()

	return job
}

// settleIdle moves to Idle after a reset unless an alarm is latched.
func (s *session) settleIdle() {
	if _, latched := s.c.stateMgr.Alarm(); latched {
		return
	}
	switch s.c.stateMgr.State() {
	case machine.Run, machine.Hold, machine.Jog, machine.Home, machine.Door, machine.Check, machine.Sleep:
		if err := s.c.stateMgr.To(machine.Idle); err != nil {
			s.logger.Debug("cannot settle to idle", "error", err)
		}
	}
}

func (s *session) checkStall(now time.Time) {
	timeout := s.c.cfg.stallTimeout
	if timeout <= 0 || s.stalled {
		return
	}
	outstanding := s.streams.Pending().Len()
	if outstanding == 0 || s.streams.Resetting() {
		return
	}

	silence := now.Sub(s.lastProgress)
	if silence < timeout {
		return
	}
	s.stalled = true
	s.logger.Warn("stream stalled", "outstanding", outstanding, "silence", silence)
	s.c.emit(event.StreamStalled{Outstanding: outstanding, Silence: silence})
}

func (s *session) syncQueueMetrics() {
	p := s.streams.Pending()
	s.c.metrics.setQueue(p.BytesInFlight(), p.Len())
}

// submit schedules an immediate command. done runs on the I/O loop with the result and
// the output captured while the command was outstanding.
func (s *session) submit(text string, done func(stream.Result, []firmware.Event)) error {
	cmd := stream.NewCommand(s.codec, text)
	cp := &capture{}
	s.captures[cmd] = cp
	cmd.Done = func(r stream.Result) {
		delete(s.captures, cmd)
		if done != nil {
			done(r, cp.events)
		}
	}
	if err := s.streams.Enqueue(cmd); err != nil {
		delete(s.captures, cmd)
		return err
	}

	return nil
}

func (s *session) capture(ev firmware.Event) {
	if len(s.captures) == 0 {
		return
	}
	if head, ok := s.streams.Pending().Peek(); ok {
		if cp, ok := s.captures[head]; ok {
			cp.events = append(cp.events, ev)
		}
	}
}

// fail ends the session after a transport failure.
func (s *session) fail(err error) bool {
	if s.closing.Load() {
		return false
	}
	s.logger.Error("transport failure", "error", err)
	s.teardown(err, true)

	return false
}

// close stops the loop and ends the session on the caller goroutine.
func (s *session) close() {
	s.closing.Store(true)
	s.taskMgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	go func() {
		s.taskMgr.Wait()
		cancel()
	}()
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Error("close timeout, I/O loop still running", "timeout", closeTimeout)
	}

	s.teardown(nil, false)
}

// teardown releases the session once.
func (s *session) teardown(err error, reconnect bool) {
	s.doneOnce.Do(func() {
		s.closing.Store(true)
		s.taskMgr.Stop()
		if cerr := s.tr.Close(); cerr != nil {
			s.logger.Debug("close transport", "error", cerr)
		}

		reason := err
		if reason == nil {
			reason = ErrSessionClosed
		}
		job := s.streams.Flush(reason)
		s.err = err
		close(s.done)
		s.c.clearSession(s)

		if job != nil {
			s.c.emit(event.StreamingCancelled{JobID: job.ID, Sent: job.Sent(), Reason: reason})
		}
		s.c.stateMgr.Reset()
		s.c.metrics.setQueue(0, 0)
		s.c.emit(event.Disconnected{Err: err})
		s.logger.Info("controller disconnected", "error", err)

		if reconnect && err != nil && s.isReady() {
			s.c.scheduleReconnect(s.tcfg, err)
		}
	})
}
