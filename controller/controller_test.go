package controller

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/internal/sim"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/transport"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if level, ok := logger.ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		logger.SetLevel(level)
	} else {
		logger.SetLogger(logger.Discard())
	}
	os.Exit(m.Run())
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recorder collects every published event.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) listener() event.Listener {
	return func(ev event.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]event.Event(nil), r.events...)
}

func (r *recorder) count(kind event.Kind) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind() == kind {
			n++
		}
	}

	return n
}

// eventsOf returns the recorded events of type T.
func eventsOf[T event.Event](r *recorder) []T {
	var out []T
	for _, ev := range r.all() {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}

	return out
}

func waitEvent[T event.Event](t *testing.T, r *recorder) T {
	t.Helper()

	var found T
	require.Eventually(t, func() bool {
		evs := eventsOf[T](r)
		if len(evs) == 0 {
			return false
		}
		found = evs[len(evs)-1]
		return true
	}, waitFor, tick)

	return found
}

func serialConfig(t *testing.T) *transport.Config {
	t.Helper()
	cfg, err := transport.NewSerialConfig("/dev/ttySIM0")
	require.NoError(t, err)

	return cfg
}

func newController(t *testing.T, opener transport.Opener, opts ...Option) (*Controller, *recorder) {
	t.Helper()

	base := []Option{
		WithOpener(opener),
		WithPollInterval(20 * time.Millisecond),
		WithHandshakeTimeout(500 * time.Millisecond),
		WithResetSettle(100 * time.Millisecond),
		WithRequestTimeout(time.Second),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	rec := &recorder{}
	c.RegisterListener(rec.listener())

	return c, rec
}

// connectAuto connects to a simulator answering every line by itself.
func connectAuto(t *testing.T, board *sim.Controller, opts ...Option) (*Controller, *recorder) {
	t.Helper()

	c, rec := newController(t, board.Opener(), opts...)
	require.NoError(t, c.Connect(context.Background(), serialConfig(t)))

	return c, rec
}

// connectHeld connects to a simulator holding every line until Ack, answering the
// build info query of the handshake.
func connectHeld(t *testing.T, board *sim.Controller, opts ...Option) (*Controller, *recorder) {
	t.Helper()

	c, rec := newController(t, board.Opener(), opts...)
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background(), serialConfig(t)) }()

	require.Eventually(t, func() bool { return board.Held() == 1 }, waitFor, tick)
	require.Equal(t, 1, board.Ack(1))
	require.NoError(t, <-errc)

	return c, rec
}

// sizedLines returns count program lines of exactly size bytes including the newline.
func sizedLines(count, size int) []string {
	lines := make([]string, count)
	for i := range lines {
		lines[i] = fmt.Sprintf("G1 X%0*d", size-5, i+1)
	}

	return lines
}

func waitState(t *testing.T, c *Controller, state machine.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == state }, waitFor, tick, "want state %s, have %s", state, c.State())
}

func TestController_Connect(t *testing.T) {
	t.Run("banner and build info", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board)

		require.Equal(machine.Idle, c.State())
		connected := waitEvent[event.Connected](t, rec)
		require.Equal("grbl", connected.Firmware.Family)
		require.Equal("1.1h", connected.Firmware.Version)
		require.Equal("20190825", connected.Firmware.Build)
		require.Equal(128, connected.Firmware.BufferSize)
		require.Equal("/dev/ttySIM0", connected.Port)

		require.Equal([]string{"$I"}, board.Lines())
		require.Equal(uint64(1), c.Metrics().Connections.Load())
		require.Equal(127, c.current().streams.Capacity())

		require.ErrorIs(c.Connect(context.Background(), serialConfig(t)), ErrAlreadyConnected)
	})

	t.Run("family detected from banner", func(t *testing.T) {
		require := require.New(t)
		board := sim.New(sim.WithBanner("Grbl 3.7 [FluidNC v3.7.8 (wifi) '$' for help]"))
		c, _ := connectAuto(t, board)

		require.Equal("fluidnc", c.Status().Firmware.Family)
		require.Equal("v3.7.8", c.Status().Firmware.Version)
		require.Contains(board.Lines(), "$I")
	})

	t.Run("lines after a family switch use the new grammar", func(t *testing.T) {
		require := require.New(t)
		ready := `{"r":{"fv":0.97,"fb":440.2,"msg":"SYSTEM READY"},"f":[1,0,4]}`
		board := sim.New(sim.WithBanner(ready + "\r\n" + `{"sr":{"posx":1.5}}`))
		c, _ := connectAuto(t, board)

		require.Equal("tinyg", c.Status().Firmware.Family)
		require.InDelta(1.5, c.Status().WorkPosition[machine.AxisX], 1e-9)

		board.InjectRaw(`{"sr":{"po`)
		time.Sleep(20 * time.Millisecond)
		board.InjectRaw(`sy":2.5}}` + "\n")
		require.Eventually(func() bool {
			return c.Status().WorkPosition[machine.AxisY] == 2.5
		}, waitFor, tick)
	})

	t.Run("plain version reply keeps the fluidnc release", func(t *testing.T) {
		require := require.New(t)
		info := mergeFirmware(
			machine.FirmwareInfo{Family: "fluidnc", Version: "v3.7.8"},
			machine.FirmwareInfo{Version: "1.1h", Build: "20190825"},
		)
		require.Equal("v3.7.8", info.Version)
		require.Equal("20190825", info.Build)

		info = mergeFirmware(machine.FirmwareInfo{Family: "grbl", Version: "1.1"}, machine.FirmwareInfo{Version: "1.1h"})
		require.Equal("1.1h", info.Version)
	})

	t.Run("silent firmware gets a soft reset, then times out", func(t *testing.T) {
		require := require.New(t)
		board := sim.New(sim.WithBanner("booting"))
		c, rec := newController(t, board.Opener(), WithHandshakeTimeout(50*time.Millisecond))

		err := c.Connect(context.Background(), serialConfig(t))
		require.ErrorIs(err, ErrHandshakeTimeout)
		require.Equal(1, board.Resets())
		require.Equal(machine.Disconnected, c.State())
		require.Zero(rec.count(event.KindConnected))
		require.Nil(c.current())
	})

	t.Run("open failure", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		board.Drop()
		c, _ := newController(t, board.Opener())

		err := c.Connect(context.Background(), serialConfig(t))
		require.ErrorIs(err, transport.ErrPortNotFound)
		require.Equal(machine.Disconnected, c.State())
	})

	t.Run("not connected", func(t *testing.T) {
		require := require.New(t)
		c, _ := newController(t, sim.New().Opener())

		_, err := c.StartStream([]string{"G0 X1"}, 0)
		require.ErrorIs(err, machine.ErrNotConnected)
		require.ErrorIs(c.Pause(), machine.ErrNotConnected)
		require.ErrorIs(c.SendRealtime(0), machine.ErrNotConnected)
		require.Error(c.Connect(context.Background(), nil))
	})

	t.Run("disconnect", func(t *testing.T) {
		require := require.New(t)
		board := sim.New()
		c, rec := connectAuto(t, board)

		require.NoError(c.Disconnect())
		require.Equal(machine.Disconnected, c.State())
		disc := waitEvent[event.Disconnected](t, rec)
		require.NoError(disc.Err)
		require.NoError(c.Disconnect())

		require.NoError(c.Connect(context.Background(), serialConfig(t)))
		require.Equal(2, board.Opens())
	})
}
