package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/stream"
)

// handle dispatches one decoded controller response.
func (s *session) handle(ev firmware.Event, now time.Time) {
	switch ev.Kind {
	case firmware.Acknowledged, firmware.ErrorCode:
		s.onResponse(ev, now)
	case firmware.AlarmCode:
		s.onAlarm(ev, now)
	case firmware.StatusReport:
		s.onStatus(ev, now)
	case firmware.StartupInfo:
		s.onStartup(ev, now)
	case firmware.Setting:
		s.c.settings.Store(ev.Key, ev.Value)
		s.capture(ev)
	case firmware.Feedback:
		s.onFeedback(ev, now)
	default:
		s.onUnrecognized(ev)
	}
}

func (s *session) onResponse(ev firmware.Event, now time.Time) {
	s.lastProgress = now
	s.stalled = false

	upd, ok, err := s.streams.OnResponse(ev)
	if err != nil {
		s.c.metrics.ProtocolErrors.Add(1)
		s.logger.Warn("drop response", "raw", ev.Raw, "error", fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}
	if !ok {
		s.c.metrics.DiscardedResponses.Add(1)
		return
	}

	if ev.Kind == firmware.ErrorCode {
		s.c.metrics.LineErrors.Add(1)
	} else {
		s.c.metrics.LinesAcked.Add(1)
	}
	s.syncQueueMetrics()

	job := upd.Job
	if job == nil {
		return
	}
	if le := upd.LineError; le != nil {
		s.logger.Warn("line rejected", "job", job.ID, "line", le.Line, "code", le.Code, "message", le.Message)
		s.c.emit(event.StreamingError{JobID: job.ID, Line: le.Line, Code: le.Code, Message: le.Message})
	}
	s.c.emit(event.StreamingProgress{JobID: job.ID, Sent: job.Acked(), Total: job.Total()})

	if upd.Finished {
		s.finishJob(job, now)
	}
}

func (s *session) finishJob(job *stream.Job, now time.Time) {
	stopped := job.State() == stream.JobStopped
	if !stopped {
		s.c.metrics.JobsCompleted.Add(1)
	}
	duration := now.Sub(job.StartedAt)
	s.logger.Info("job finished", "job", job.ID, "state", job.State().String(), "lines", job.Acked(), "errors", len(job.Errors()), "duration", duration)

	if s.c.stateMgr.State() == machine.Run {
		if err := s.c.stateMgr.To(machine.Idle); err != nil {
			s.logger.Debug("cannot leave run after job", "error", err)
		}
	}
	s.c.emit(event.StreamingComplete{
		JobID:    job.ID,
		Sent:     job.Acked(),
		Errors:   len(job.Errors()),
		Stopped:  stopped,
		Duration: duration,
	})
}

func (s *session) onAlarm(ev firmware.Event, now time.Time) {
	a := machine.AlarmRecord{Code: ev.Code, Description: ev.Message, RaisedAt: now}
	if a.Description == "" && a.Code > 0 {
		a.Description = firmware.AlarmMessage(a.Code)
	}

	prev, latched := s.c.stateMgr.Alarm()
	s.c.stateMgr.RaiseAlarm(a)
	if latched && prev.Code == a.Code {
		return
	}
	s.alarmRaised(a, now)
}

// alarmRaised aborts the job and publishes the alarm.
func (s *session) alarmRaised(a machine.AlarmRecord, now time.Time) {
	s.c.metrics.Alarms.Add(1)
	s.c.publish(s.c.Status().WithAlarm(&a, now))
	s.logger.Warn("alarm raised", "code", a.Code, "description", a.Description)

	// the firmware flushed its receive buffer without answering it
	if s.streams.Busy() || s.streams.Outstanding() {
		job := s.enterReset(now)
		if job != nil {
			reason := &machine.AlarmError{Action: machine.ActionStream, Alarm: a}
			s.c.emit(event.StreamingCancelled{JobID: job.ID, Sent: job.Sent(), Reason: reason})
		}
	}

	s.c.emit(event.AlarmRaised{Alarm: a})
}

// clearAlarm releases a latched alarm after an unlock or reset.
func (s *session) clearAlarm(next machine.State, now time.Time) {
	a, latched := s.c.stateMgr.Alarm()
	if !latched {
		return
	}
	s.c.stateMgr.ReleaseAlarm(next)

	s.c.publish(s.c.Status().WithAlarm(nil, now))
	s.logger.Info("alarm cleared", "code", a.Code)
	s.c.emit(event.AlarmCleared{Alarm: a})
}

func (s *session) onStatus(ev firmware.Event, now time.Time) {
	s.statusPending.Store(false)
	s.c.metrics.StatusReports.Add(1)

	r := ev.Report
	if r.State != nil {
		s.observe(*r.State, now)
	}

	prev := s.c.Status()
	next := prev.Apply(r, now)
	next.State = s.c.stateMgr.State()
	s.c.publish(next)

	s.c.emit(event.StatusUpdated{Status: next})
	if next.PositionChanged(prev) {
		s.c.emit(event.PositionUpdated{Machine: next.MachinePosition, Work: next.WorkPosition})
	}
}

// observe follows the reported state. The firmware reports Idle between program lines
// when its planner drained, which does not end a running job.
func (s *session) observe(reported machine.State, now time.Time) {
	cur := s.c.stateMgr.State()
	if reported == machine.Idle && cur == machine.Run && s.streams.Busy() {
		return
	}
	if !s.c.stateMgr.Observe(reported) {
		return
	}
	if cur != machine.Alarm && s.c.stateMgr.State() == machine.Alarm {
		a, _ := s.c.stateMgr.Alarm()
		s.alarmRaised(a, now)
	}
}

func (s *session) onStartup(ev firmware.Event, now time.Time) {
	s.applyFirmware(ev, now)

	if !s.isReady() {
		if !s.initializing {
			s.initializing = true
			s.initialize()
			return
		}
		// a second banner while initializing, the build info query was lost
		s.streams.Flush(stream.ErrReset)
		return
	}

	s.onReset(ev, now)
}

// initialize queries the build info of GRBL-family firmware before the session is ready.
func (s *session) initialize() {
	if !s.codec.Family().IsGrblFamily() {
		s.finishHandshake()
		return
	}

	text, err := s.codec.SystemCommand(firmware.BuildInfo)
	if err == nil {
		err = s.submit(text, func(r stream.Result, _ []firmware.Event) {
			if r.Err != nil {
				s.logger.Debug("build info query failed", "error", r.Err)
			}
			s.finishHandshake()
		})
	}
	if err != nil {
		s.logger.Debug("skip build info query", "error", err)
		s.finishHandshake()
	}
}

// onReset handles a banner received on a live session: the firmware restarted and
// dropped everything it had buffered.
func (s *session) onReset(ev firmware.Event, now time.Time) {
	s.logger.Info("controller reset", "banner", ev.Raw)

	if s.streams.Resetting() {
		s.streams.ResetComplete()
		s.resetDeadline = time.Time{}
	} else if s.streams.Busy() || s.streams.Outstanding() {
		job := s.streams.Flush(stream.ErrReset)
		if job != nil {
			s.c.emit(event.StreamingCancelled{JobID: job.ID, Sent: job.Sent(), Reason: stream.ErrReset})
		}
	}
	s.syncQueueMetrics()
	s.statusPending.Store(false)

	next := *s.c.Status()
	next.Overrides = machine.DefaultOverrides
	next.Timestamp = now
	s.c.publish(&next)

	s.settleIdle()
}

func (s *session) onFeedback(ev firmware.Event, now time.Time) {
	s.capture(ev)
	if ev.Info != nil {
		s.applyFirmware(ev, now)
	}
	s.c.emit(event.FeedbackMessage{Tag: ev.Tag, Text: ev.Message})
}

func (s *session) onUnrecognized(ev firmware.Event) {
	// JSON firmware answers in objects the text grammar does not know
	if s.c.cfg.detect && !s.isReady() && !s.codec.Family().IsJSON() && strings.HasPrefix(ev.Raw, "{") {
		f, ok := firmware.Detect(ev.Raw)
		if !ok || !f.IsJSON() {
			f = firmware.TinyG
		}
		s.switchCodec(f)
		now := time.Now()
		for _, e := range s.codec.DecodeLine(firmware.Line{Text: ev.Raw}) {
			s.handle(e, now)
		}
		return
	}

	s.c.metrics.Unrecognized.Add(1)
	s.capture(ev)
	s.logger.Debug("unrecognized controller output", "raw", ev.Raw)
}

// applyFirmware merges firmware details and follows the family they name.
func (s *session) applyFirmware(ev firmware.Event, now time.Time) {
	if ev.Info == nil {
		return
	}
	info := *ev.Info

	if s.c.cfg.detect {
		if f, ok := detectFamily(info, ev.Raw); ok && f != s.codec.Family() {
			s.switchCodec(f)
		}
	}

	if info.BufferSize > 0 && s.c.cfg.capacity == 0 {
		s.streams.SetCapacity(firmware.CapacityFor(info.BufferSize))
	}

	merged := mergeFirmware(s.c.Status().Firmware, info)
	if merged.Family == "" {
		merged.Family = s.codec.Family().String()
	}
	s.c.publish(s.c.Status().WithFirmware(merged, now))
}

func (s *session) switchCodec(f firmware.Family) {
	s.logger.Info("firmware family detected", "from", s.codec.Family().String(), "to", f.String())
	s.codec = firmware.NewCodec(f)
	s.family.Store(uint32(f))
	if s.c.cfg.capacity == 0 {
		s.streams.SetCapacity(s.codec.BufferCapacity())
	}
}

func detectFamily(info machine.FirmwareInfo, raw string) (firmware.Family, bool) {
	if info.Family != "" {
		if f, err := firmware.ParseFamily(info.Family); err == nil {
			return f, true
		}
	}
	return firmware.Detect(raw)
}

func mergeFirmware(dst, src machine.FirmwareInfo) machine.FirmwareInfo {
	if src.Family != "" {
		dst.Family = src.Family
	}
	// a VER line without a family is FluidNC's GRBL compatibility level
	if src.Version != "" && (src.Family != "" || dst.Family != firmware.FluidNC.String()) {
		dst.Version = src.Version
	}
	if src.Build != "" {
		dst.Build = src.Build
	}
	if src.Options != "" {
		dst.Options = src.Options
	}
	if src.BufferSize > 0 {
		dst.BufferSize = src.BufferSize
	}
	if src.Axes > 0 {
		dst.Axes = src.Axes
	}

	return dst
}
