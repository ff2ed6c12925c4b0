package controller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/stream"
)

// Response is the outcome of an immediate command.
type Response struct {
	// Event is the acknowledgment or error that answered the command.
	Event firmware.Event
	// Output holds the feedback, setting and unrecognized lines received while the
	// command was outstanding.
	Output []firmware.Event
}

// Lines returns the raw output lines.
func (r Response) Lines() []string {
	lines := make([]string, 0, len(r.Output))
	for _, ev := range r.Output {
		lines = append(lines, ev.Raw)
	}

	return lines
}

type commandReply struct {
	result stream.Result
	output []firmware.Event
}

// SendRealtime writes a real-time command ahead of every queued line.
// Status queries are coalesced while one is unanswered.
func (c *Controller) SendRealtime(rt firmware.Realtime) error {
	s := c.current()
	if s == nil {
		return machine.ErrNotConnected
	}
	if _, err := firmware.NewCodec(firmware.Family(s.family.Load())).EncodeRealtime(rt); err != nil {
		return err
	}
	if rt == firmware.StatusQuery {
		s.requestStatus()
		return nil
	}

	return s.queueRealtime(rt)
}

// StartStream validates the program and starts streaming it. It returns the job ID.
//
// Every line is checked against the buffer capacity before anything is written; a line
// that can never fit is reported as a *stream.ValidationError naming its source line.
func (c *Controller) StartStream(lines []string, policy stream.ErrorPolicy) (string, error) {
	var jobID string
	_, err := c.doTimeout(func(s *session) error {
		if err := c.stateMgr.Allow(machine.ActionStream); err != nil {
			return err
		}

		job, err := stream.NewJob(lines, s.codec, s.streams.Capacity(), policy)
		if err != nil {
			return err
		}
		if err := s.streams.Start(job); err != nil {
			return err
		}
		if c.stateMgr.State() == machine.Idle {
			if err := c.stateMgr.To(machine.Run); err != nil {
				s.logger.Debug("stream without run state", "error", err)
			}
		}

		c.metrics.JobsStarted.Add(1)
		s.logger.Info("job started", "job", job.ID, "lines", job.Total(), "policy", policy.String())
		c.emit(event.StreamingStarted{JobID: job.ID, Total: job.Total()})
		jobID = job.ID

		return nil
	})

	return jobID, err
}

// Pause holds motion and stops writing program lines.
func (c *Controller) Pause() error {
	_, err := c.doTimeout(func(s *session) error {
		if err := c.stateMgr.Allow(machine.ActionPause); err != nil {
			return err
		}
		if err := s.writeRealtime(firmware.FeedHold); err != nil {
			return err
		}

		if s.streams.Pause() {
			c.emit(event.StreamingPaused{JobID: s.streams.Job().ID})
		}
		if cur := c.stateMgr.State(); cur == machine.Run || cur == machine.Jog {
			return c.stateMgr.To(machine.Hold)
		}

		return nil
	})

	return err
}

// Resume continues motion and the paused job.
func (c *Controller) Resume() error {
	_, err := c.doTimeout(func(s *session) error {
		job := s.streams.Job()
		paused := job != nil && job.State() == stream.JobPaused
		if err := c.stateMgr.Allow(machine.ActionResume); err != nil && !paused {
			return err
		}
		if err := s.writeRealtime(firmware.CycleResume); err != nil {
			return err
		}

		if s.streams.Resume() {
			c.emit(event.StreamingResumed{JobID: job.ID})
		}
		if c.stateMgr.State() == machine.Hold {
			next := machine.Idle
			if s.streams.Busy() {
				next = machine.Run
			}
			return c.stateMgr.To(next)
		}

		return nil
	})

	return err
}

// Cancel stops motion, resets the firmware and drops the job and every queued command.
// Responses to lines written before the reset are discarded.
func (c *Controller) Cancel() error {
	_, err := c.doTimeout(func(s *session) error {
		if err := c.stateMgr.Allow(machine.ActionCancel); err != nil {
			return err
		}

		return s.softReset(stream.ErrCancelled)
	})

	return err
}

// Reset soft-resets the firmware and releases a latched alarm.
func (c *Controller) Reset() error {
	_, err := c.doTimeout(func(s *session) error {
		if err := c.stateMgr.Allow(machine.ActionReset); err != nil {
			return err
		}
		if err := s.softReset(stream.ErrCancelled); err != nil {
			return err
		}
		s.clearAlarm(machine.Idle, time.Now())

		return nil
	})

	return err
}

// softReset holds, resets and enters the reset phase.
func (s *session) softReset(reason error) error {
	if err := s.writeRealtime(firmware.FeedHold); err != nil {
		return err
	}
	if err := s.writeRealtime(firmware.SoftReset); err != nil {
		return err
	}

	job := s.enterReset(time.Now())
	if job != nil {
		s.logger.Info("job cancelled", "job", job.ID, "sent", job.Sent())
		s.c.emit(event.StreamingCancelled{JobID: job.ID, Sent: job.Sent(), Reason: reason})
	}

	return nil
}

// Execute sends one line as an immediate command and waits for its response.
// A controller error is returned as a *stream.LineError together with the response.
//
// Lines naming a system command are gated like the dedicated method: unlock, homing,
// check mode and jog lines go through Unlock, Home, ToggleCheckMode and the jog gate.
func (c *Controller) Execute(ctx context.Context, line string) (Response, error) {
	text := firmware.NormalizeLine(stream.StripComment(line))
	if text == "" {
		return Response{}, stream.ErrEmptyProgram
	}
	s := c.current()
	if s == nil {
		return Response{}, machine.ErrNotConnected
	}

	codec := firmware.NewCodec(firmware.Family(s.family.Load()))
	switch {
	case isSystemCommand(codec, firmware.Unlock, text):
		return c.unlock(ctx)
	case isSystemCommand(codec, firmware.HomeCycle, text):
		return c.home(ctx)
	case isSystemCommand(codec, firmware.CheckModeToggle, text):
		return c.toggleCheckMode(ctx)
	}

	action := machine.ActionExecute
	switch {
	case strings.HasPrefix(text, "$J="):
		action = machine.ActionJog
	case strings.HasPrefix(text, "$"):
		action = machine.ActionSettings
	}

	return c.command(ctx, action, func(s *session) (string, error) {
		return text, nil
	}, nil)
}

func isSystemCommand(codec firmware.Codec, cmd firmware.System, text string) bool {
	want, err := codec.SystemCommand(cmd)
	return err == nil && strings.EqualFold(want, text)
}

// command runs an immediate command gated by action. onResult runs on the I/O loop.
func (c *Controller) command(ctx context.Context, action machine.Action, build func(s *session) (string, error), onResult func(s *session, r stream.Result, output []firmware.Event)) (Response, error) {
	reply := make(chan commandReply, 1)
	s, err := c.do(ctx, func(s *session) error {
		if err := c.stateMgr.Allow(action); err != nil {
			return err
		}
		if s.streams.Busy() {
			return stream.ErrJobActive
		}
		text, err := build(s)
		if err != nil {
			return err
		}

		return s.submit(text, func(r stream.Result, output []firmware.Event) {
			if onResult != nil {
				onResult(s, r, output)
			}
			reply <- commandReply{result: r, output: output}
		})
	})
	if err != nil {
		return Response{}, err
	}

	rep, err := await(ctx, s, reply)
	if err != nil {
		return Response{}, err
	}

	return Response{Event: rep.result.Event, Output: rep.output}, rep.result.Err
}

// Unlock clears a latched alarm with the firmware unlock command.
func (c *Controller) Unlock(ctx context.Context) error {
	_, err := c.unlock(ctx)
	return err
}

func (c *Controller) unlock(ctx context.Context) (Response, error) {
	return c.command(ctx, machine.ActionUnlock, func(s *session) (string, error) {
		return s.codec.SystemCommand(firmware.Unlock)
	}, func(s *session, r stream.Result, _ []firmware.Event) {
		if r.Err == nil {
			s.clearAlarm(machine.Idle, time.Now())
		}
	})
}

// Home runs the homing cycle and waits until the firmware acknowledged it.
func (c *Controller) Home(ctx context.Context) error {
	_, err := c.home(ctx)
	return err
}

func (c *Controller) home(ctx context.Context) (Response, error) {
	return c.command(ctx, machine.ActionHome, func(s *session) (string, error) {
		if !s.codec.Supports(firmware.Homing) {
			return "", fmt.Errorf("%w: homing on %s", firmware.ErrUnsupportedCommand, s.codec.Family())
		}
		text, err := s.codec.SystemCommand(firmware.HomeCycle)
		if err != nil {
			return "", err
		}
		if err := c.stateMgr.To(machine.Home); err != nil {
			return "", err
		}

		return text, nil
	}, func(s *session, _ stream.Result, _ []firmware.Event) {
		if c.stateMgr.State() == machine.Home {
			if err := c.stateMgr.To(machine.Idle); err != nil {
				s.logger.Debug("cannot leave home state", "error", err)
			}
		}
	})
}

// ToggleCheckMode enters or leaves the firmware G-code check mode.
// Leaving check mode resets the firmware, which answers with its banner instead of ok.
func (c *Controller) ToggleCheckMode(ctx context.Context) error {
	_, err := c.toggleCheckMode(ctx)
	return err
}

func (c *Controller) toggleCheckMode(ctx context.Context) (Response, error) {
	var leaving bool
	resp, err := c.command(ctx, machine.ActionCheckMode, func(s *session) (string, error) {
		if !s.codec.Supports(firmware.CheckMode) {
			return "", fmt.Errorf("%w: check mode on %s", firmware.ErrUnsupportedCommand, s.codec.Family())
		}
		leaving = c.stateMgr.State() == machine.Check

		return s.codec.SystemCommand(firmware.CheckModeToggle)
	}, func(s *session, r stream.Result, _ []firmware.Event) {
		if r.Err == nil && !leaving {
			if err := c.stateMgr.To(machine.Check); err != nil {
				s.logger.Debug("cannot enter check state", "error", err)
			}
		}
	})
	if leaving && errors.Is(err, stream.ErrReset) {
		return resp, nil
	}

	return resp, err
}

// Jog sends a jog request and waits until the firmware accepted every line of it.
func (c *Controller) Jog(ctx context.Context, jog firmware.Jog) error {
	reply := make(chan error, 4)
	var count int
	s, err := c.do(ctx, func(s *session) error {
		if err := c.stateMgr.Allow(machine.ActionJog); err != nil {
			return err
		}
		if s.streams.Busy() {
			return stream.ErrJobActive
		}
		lines, err := s.codec.JogCommand(jog)
		if err != nil {
			return err
		}
		if len(lines) > cap(reply) {
			return fmt.Errorf("%w: jog expands to %d lines", firmware.ErrInvalidJog, len(lines))
		}
		for _, line := range lines {
			if err := s.submit(line, func(r stream.Result, _ []firmware.Event) { reply <- r.Err }); err != nil {
				return err
			}
			count++
		}

		return nil
	})
	if err != nil {
		return err
	}

	var first error
	for range count {
		rerr, err := await(ctx, s, reply)
		if err != nil {
			return err
		}
		if first == nil {
			first = rerr
		}
	}

	return first
}

// JogCancel stops a running jog and discards the queued jog motion.
func (c *Controller) JogCancel() error {
	_, err := c.doTimeout(func(s *session) error {
		if err := c.stateMgr.Allow(machine.ActionJog); err != nil {
			return err
		}
		return s.writeRealtime(firmware.JogCancel)
	})

	return err
}

// ReadSettings reads every firmware setting and publishes SettingsLoaded.
func (c *Controller) ReadSettings(ctx context.Context) (map[string]string, error) {
	var settings map[string]string
	_, err := c.command(ctx, machine.ActionSettings, func(s *session) (string, error) {
		return s.codec.SystemCommand(firmware.SettingsQuery)
	}, func(s *session, r stream.Result, output []firmware.Event) {
		if r.Err != nil {
			return
		}
		loaded := make(map[string]string)
		for _, ev := range output {
			if ev.Kind == firmware.Setting {
				loaded[ev.Key] = ev.Value
			}
		}
		settings = loaded
		s.logger.Debug("settings loaded", "count", len(loaded))
		c.emit(event.SettingsLoaded{Settings: maps.Clone(loaded)})
	})
	if err != nil {
		return nil, err
	}

	return settings, nil
}

// WriteSetting writes one firmware setting. Firmware configured through files, such as
// FluidNC, returns firmware.ErrSettingsReadOnly without writing anything.
func (c *Controller) WriteSetting(ctx context.Context, key, value string) error {
	key = strings.TrimPrefix(strings.TrimSpace(key), "$")
	_, err := c.command(ctx, machine.ActionSettings, func(s *session) (string, error) {
		if !s.codec.SettingsWritable() {
			return "", fmt.Errorf("controller: write setting %s on %s: %w", key, s.codec.Family(), firmware.ErrSettingsReadOnly)
		}
		return s.codec.SettingCommand(key, value)
	}, func(s *session, r stream.Result, _ []firmware.Event) {
		if r.Err == nil {
			c.settings.Store(key, strings.TrimSpace(value))
		}
	})

	return err
}

// SetFeedOverride moves the feed override to pct percent, 10 to 200.
func (c *Controller) SetFeedOverride(pct int) error {
	return c.setOverride(firmware.FeedOverride, pct)
}

// SetSpindleOverride moves the spindle override to pct percent, 10 to 200.
func (c *Controller) SetSpindleOverride(pct int) error {
	return c.setOverride(firmware.SpindleOverride, pct)
}

// SetRapidOverride sets the rapid override to 25, 50 or 100 percent.
func (c *Controller) SetRapidOverride(pct int) error {
	return c.setOverride(firmware.RapidOverride, pct)
}

func (c *Controller) setOverride(kind firmware.OverrideKind, pct int) error {
	_, err := c.doTimeout(func(s *session) error {
		if err := c.stateMgr.Allow(machine.ActionOverride); err != nil {
			return err
		}
		if !s.codec.Supports(firmware.Overrides) {
			return fmt.Errorf("%w: %s override on %s", firmware.ErrUnsupportedCommand, kind, s.codec.Family())
		}

		st := c.Status()
		next := *st
		current := 0
		switch kind {
		case firmware.FeedOverride:
			current, next.Overrides.Feed = st.Overrides.Feed, pct
		case firmware.RapidOverride:
			current, next.Overrides.Rapid = st.Overrides.Rapid, pct
		case firmware.SpindleOverride:
			current, next.Overrides.Spindle = st.Overrides.Spindle, pct
		}

		steps, err := firmware.OverrideSteps(kind, current, pct)
		if err != nil {
			return err
		}
		for _, rt := range steps {
			if err := s.writeRealtime(rt); err != nil {
				return err
			}
		}
		s.logger.Debug("override set", "kind", kind.String(), "from", current, "to", pct, "steps", len(steps))

		next.Timestamp = time.Now()
		c.publish(&next)

		return nil
	})

	return err
}
