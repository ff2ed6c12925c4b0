package controller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/internal/sim"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/stream"
	"github.com/arloliu/go-cnc/transport"
	"github.com/stretchr/testify/require"
)

// quietBoard never answers status queries.
type quietBoard struct {
	*sim.Controller

	mu      sync.Mutex
	queries int
}

func (q *quietBoard) Write(p []byte) (int, error) {
	filtered := make([]byte, 0, len(p))
	for _, b := range p {
		if b == '?' {
			q.mu.Lock()
			q.queries++
			q.mu.Unlock()
			continue
		}
		filtered = append(filtered, b)
	}
	if len(filtered) > 0 {
		if _, err := q.Controller.Write(filtered); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

func (q *quietBoard) Queries() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.queries
}

func (q *quietBoard) opener() transport.Opener {
	return func(_ context.Context, _ *transport.Config) (transport.Transport, error) {
		if err := q.Open(); err != nil {
			return nil, err
		}
		return q, nil
	}
}

func TestController_StatusPolling(t *testing.T) {
	t.Run("reports follow the machine", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board)

		require.Eventually(func() bool { return c.Metrics().StatusReports.Load() >= 3 }, waitFor, tick)
		require.NotEmpty(eventsOf[event.StatusUpdated](rec))

		board.SetWorkOffset(1, 2, 3)
		_, err := c.Execute(t.Context(), "G0 X10")
		require.NoError(err)

		require.Eventually(func() bool {
			moves := eventsOf[event.PositionUpdated](rec)
			return len(moves) > 0 && moves[len(moves)-1].Machine[machine.AxisX] == 10
		}, waitFor, tick)
		st := c.Status()
		require.InDelta(10.0, st.MachinePosition[machine.AxisX], 0.0001)
		require.InDelta(9.0, st.WorkPosition[machine.AxisX], 0.0001)
		require.InDelta(-2.0, st.WorkPosition[machine.AxisY], 0.0001)
		require.Equal(machine.Idle, st.State)
	})

	t.Run("unanswered queries are coalesced", func(t *testing.T) {
		require := require.New(t)
		board := &quietBoard{Controller: sim.New()}
		c, _ := newController(t, board.opener())
		require.NoError(c.Connect(t.Context(), serialConfig(t)))

		time.Sleep(300 * time.Millisecond)
		require.Equal(1, board.Queries())

		for range 3 {
			require.NoError(c.SendRealtime(firmware.StatusQuery))
		}
		time.Sleep(30 * time.Millisecond)
		require.Equal(1, board.Queries())
		require.Zero(c.Metrics().StatusReports.Load())
	})

	t.Run("polling disabled", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, _ := connectAuto(t, board, WithPolling(false))

		time.Sleep(100 * time.Millisecond)
		require.Zero(board.CountRealtime('?'))

		require.NoError(c.SendRealtime(firmware.StatusQuery))
		require.Eventually(func() bool { return c.Metrics().StatusReports.Load() == 1 }, waitFor, tick)
	})
}

func TestController_Execute(t *testing.T) {
	t.Run("captures output", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, _ := connectAuto(t, board)

		resp, err := c.Execute(t.Context(), "$G ; parser state")
		require.NoError(err)
		require.Equal(firmware.Acknowledged, resp.Event.Kind)
		require.Len(resp.Lines(), 1)
		require.True(strings.HasPrefix(resp.Lines()[0], "[GC:"))
		require.Contains(board.Lines(), "$G")
	})

	t.Run("line error", func(t *testing.T) {
		require := require.New(t)
		board := sim.New(sim.WithErrorOn("G99", 20))
		c, _ := connectAuto(t, board)

		resp, err := c.Execute(t.Context(), "G99")
		var le *stream.LineError
		require.ErrorAs(err, &le)
		require.Equal(20, le.Code)
		require.Equal(firmware.ErrorCode, resp.Event.Kind)
	})

	t.Run("empty line", func(t *testing.T) {
		require := require.New(t)
		c, _ := connectAuto(t, sim.New())

		_, err := c.Execute(t.Context(), "  (comment only)")
		require.ErrorIs(err, stream.ErrEmptyProgram)
	})

	t.Run("system lines follow the state gates", func(t *testing.T) {
		require := require.New(t)
		board := sim.New(sim.WithBootAlarm())
		c, _ := connectAuto(t, board)
		waitState(t, c, machine.Alarm)

		_, err := c.Execute(t.Context(), "$J=G91 X10 F100")
		require.ErrorIs(err, machine.ErrAlarmActive)
		_, err = c.Execute(t.Context(), "$C")
		require.ErrorIs(err, machine.ErrAlarmActive)
		require.NotContains(board.Lines(), "$J=G91 X10 F100")
		require.NotContains(board.Lines(), "$C")

		_, err = c.Execute(t.Context(), "$$")
		require.NoError(err)

		resp, err := c.Execute(t.Context(), "$X")
		require.NoError(err)
		require.Equal(firmware.Acknowledged, resp.Event.Kind)
		waitState(t, c, machine.Idle)
		require.Nil(c.Status().Alarm)

		_, err = c.Execute(t.Context(), "$C")
		require.NoError(err)
		require.Equal(machine.Check, c.State())
		_, err = c.Execute(t.Context(), "$C")
		require.NoError(err)
		waitState(t, c, machine.Idle)

		_, err = c.Execute(t.Context(), "$J=G91 X10 F100")
		require.NoError(err)
		require.Contains(board.Lines(), "$J=G91 X10 F100")
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		require := require.New(t)
		board := sim.New(sim.WithAutoAck(false))
		c, _ := connectHeld(t, board)

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		_, err := c.Execute(ctx, "G0 X1")
		require.ErrorIs(err, context.DeadlineExceeded)
	})
}

func TestController_MachineCommands(t *testing.T) {
	t.Run("jog", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, _ := connectAuto(t, board)

		err := c.Jog(t.Context(), firmware.Jog{Axes: map[machine.Axis]float64{machine.AxisX: 10}, Feed: 500})
		require.NoError(err)
		require.Contains(board.Lines(), "$J=G91 G21 X10 F500")

		require.NoError(c.JogCancel())
		require.Eventually(func() bool { return board.CountRealtime(0x85) == 1 }, waitFor, tick)

		err = c.Jog(t.Context(), firmware.Jog{Feed: 500})
		require.ErrorIs(err, firmware.ErrInvalidJog)
	})

	t.Run("home", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board)

		require.NoError(c.Home(t.Context()))
		require.Contains(board.Lines(), "$H")
		require.Equal(machine.Idle, c.State())

		var states []machine.State
		for _, ev := range eventsOf[event.MachineStateChanged](rec) {
			states = append(states, ev.Current)
		}
		require.Contains(states, machine.Home)
	})

	t.Run("check mode", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, _ := connectAuto(t, board)

		require.NoError(c.ToggleCheckMode(t.Context()))
		require.Equal(machine.Check, c.State())
		require.Equal("Check", board.State())

		require.NoError(c.ToggleCheckMode(t.Context()))
		waitState(t, c, machine.Idle)
		require.Equal(2, countLines(board.Lines(), "$C"))
	})

	t.Run("overrides", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, _ := connectAuto(t, board)

		require.NoError(c.SetFeedOverride(150))
		require.NoError(c.SetSpindleOverride(80))
		require.NoError(c.SetRapidOverride(50))
		require.Eventually(func() bool {
			feed, rapid, spindle := board.Overrides()
			return feed == 150 && rapid == 50 && spindle == 80
		}, waitFor, tick)
		require.Eventually(func() bool {
			return c.Status().Overrides == machine.Overrides{Feed: 150, Rapid: 50, Spindle: 80}
		}, waitFor, tick)

		require.ErrorIs(c.SetRapidOverride(30), firmware.ErrOverrideRange)
		require.ErrorIs(c.SetFeedOverride(250), firmware.ErrOverrideRange)
	})

	t.Run("reset clears the alarm", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board)

		board.Inject("ALARM:3")
		waitState(t, c, machine.Alarm)
		waitEvent[event.AlarmRaised](t, rec)

		require.NoError(c.Reset())
		require.Equal(1, board.Resets())
		waitEvent[event.AlarmCleared](t, rec)
		require.Equal(machine.Idle, c.State())
	})
}

func TestController_Settings(t *testing.T) {
	t.Run("read and write", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board)

		settings, err := c.ReadSettings(t.Context())
		require.NoError(err)
		require.Equal("5000.000", settings["110"])
		require.Len(settings, 7)
		loaded := waitEvent[event.SettingsLoaded](t, rec)
		require.Equal(settings, loaded.Settings)
		require.Equal("5000.000", c.Settings()["110"])

		require.NoError(c.WriteSetting(t.Context(), "$110", "6000"))
		v, ok := board.Setting("110")
		require.True(ok)
		require.Equal("6000", v)
		require.Equal("6000", c.Settings()["110"])
	})

	t.Run("read-only family", func(t *testing.T) {
		require := require.New(t)
		board := sim.New(sim.WithBanner("Grbl 3.7 [FluidNC v3.7.8 (wifi) '$' for help]"))
		c, _ := connectAuto(t, board)

		err := c.WriteSetting(t.Context(), "110", "6000")
		require.ErrorIs(err, firmware.ErrSettingsReadOnly)
		for _, line := range board.Lines() {
			require.False(strings.HasPrefix(line, "$110="), line)
		}
	})

	t.Run("invalid setting", func(t *testing.T) {
		require := require.New(t)
		c, _ := connectAuto(t, sim.New())

		err := c.WriteSetting(t.Context(), "abc", "1")
		require.ErrorIs(err, firmware.ErrInvalidSetting)
	})
}

func TestController_Listeners(t *testing.T) {
	require := require.New(t)
	board := sim.New()
	c, rec := newController(t, board.Opener())
	h := c.RegisterListener(func(event.Event) { panic("listener bug") })

	require.NoError(c.Connect(t.Context(), serialConfig(t)))
	waitEvent[event.Connected](t, rec)
	require.Positive(c.ListenerPanics())

	_, err := c.Execute(t.Context(), "G0 X1")
	require.NoError(err)
	require.Equal(machine.Idle, c.State())

	require.True(c.UnregisterListener(h))
	require.False(c.UnregisterListener(h))
	panics := c.ListenerPanics()
	_, err = c.Execute(t.Context(), "G0 X2")
	require.NoError(err)
	require.Equal(panics, c.ListenerPanics())
}

func TestController_Reconnect(t *testing.T) {
	t.Run("link restored", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board, WithReconnect(5, 20*time.Millisecond))

		board.Drop()
		disc := waitEvent[event.Disconnected](t, rec)
		require.ErrorIs(disc.Err, sim.ErrLinkDown)
		waitEvent[event.Reconnecting](t, rec)

		board.Restore()
		require.Eventually(func() bool { return c.Metrics().Connections.Load() == 2 }, waitFor, tick)
		waitState(t, c, machine.Idle)
		require.Equal(2, board.Opens())
		require.Zero(rec.count(event.KindReconnectFailed))

		_, err := c.Execute(t.Context(), "G0 X1")
		require.NoError(err)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board, WithReconnect(2, 10*time.Millisecond))

		board.Drop()
		failed := waitEvent[event.ReconnectFailed](t, rec)
		require.Equal(2, failed.Attempts)
		require.ErrorIs(failed.Err, transport.ErrPortNotFound)
		require.Len(eventsOf[event.Reconnecting](rec), 2)
		require.Equal(machine.Disconnected, c.State())
		require.Eventually(func() bool { return c.Metrics().ReconnectGauge.Load() == 0 }, waitFor, tick)
	})

	t.Run("explicit disconnect does not reconnect", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board, WithReconnect(3, 10*time.Millisecond))

		require.NoError(c.Disconnect())
		time.Sleep(50 * time.Millisecond)
		require.Zero(rec.count(event.KindReconnecting))
		require.Equal(1, board.Opens())
	})

	t.Run("job in flight is cancelled", func(t *testing.T) {
		require := require.New(t)
		board := sim.New(sim.WithAutoAck(false))
		c, rec := connectHeld(t, board)

		jobID, err := c.StartStream([]string{"G0 X1", "G0 X2"}, stream.ContinueOnError)
		require.NoError(err)
		require.Eventually(func() bool { return board.Held() == 2 }, waitFor, tick)

		board.Drop()
		cancelled := waitEvent[event.StreamingCancelled](t, rec)
		require.Equal(jobID, cancelled.JobID)
		require.ErrorIs(cancelled.Reason, sim.ErrLinkDown)
		waitState(t, c, machine.Disconnected)
		require.Zero(c.Metrics().BytesInFlight.Load())
	})
}

func TestController_Close(t *testing.T) {
	require := require.New(t)
	board := sim.New()
	c, _ := connectAuto(t, board)

	require.NoError(c.Close())
	require.Equal(machine.Disconnected, c.State())
	require.ErrorIs(c.Connect(context.Background(), serialConfig(t)), ErrClosed)
}

func countLines(lines []string, want string) int {
	n := 0
	for _, line := range lines {
		if line == want {
			n++
		}
	}

	return n
}
