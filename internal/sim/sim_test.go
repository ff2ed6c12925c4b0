package sim

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/transport"
	"github.com/stretchr/testify/require"
)

// readEvents reads from the simulator until want events of kind were decoded.
func readEvents(t *testing.T, tr transport.Transport, codec firmware.Codec, kind firmware.EventKind, want int) []firmware.Event {
	t.Helper()

	var events []firmware.Event
	buf := make([]byte, 64)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := tr.TryRead(buf)
		require.NoError(t, err)
		events = append(events, codec.Decode(buf[:n])...)
		count := 0
		for _, ev := range events {
			if ev.Kind == kind {
				count++
			}
		}
		if count >= want {
			return events
		}
	}
	t.Fatalf("timed out waiting for %d %s events, got %v", want, kind, events)

	return nil
}

func TestSim_BannerAndAutoAck(t *testing.T) {
	require := require.New(t)
	s := New()
	tr, err := s.Opener()(context.Background(), nil)
	require.NoError(err)
	codec := firmware.NewCodec(firmware.GRBL)

	events := readEvents(t, tr, codec, firmware.StartupInfo, 1)
	require.Equal("1.1h", events[len(events)-1].Info.Version)

	_, err = tr.Write([]byte("G0 X5 Y2\n$I\n"))
	require.NoError(err)
	events = readEvents(t, tr, codec, firmware.Acknowledged, 2)
	require.Equal([]string{"G0 X5 Y2", "$I"}, s.Lines())

	_, err = tr.Write([]byte("?"))
	require.NoError(err)
	events = readEvents(t, tr, codec, firmware.StatusReport, 1)
	report := events[len(events)-1].Report
	require.NotNil(report.State)
	require.Equal(machine.Idle, *report.State)
	require.NotNil(report.MachinePosition)
	require.InDelta(5.0, report.MachinePosition[machine.AxisX], 1e-9)
	require.Equal([]byte("?"), s.Realtime())
}

func TestSim_ManualAck(t *testing.T) {
	require := require.New(t)
	s := New(WithAutoAck(false), WithRxBufferSize(20))
	require.NoError(s.Open())

	_, err := s.Write([]byte("G1 X1\nG1 X2\n"))
	require.NoError(err)
	require.Equal(2, s.Held())
	require.Equal(12, s.Buffered())
	require.Equal("Run", strings.TrimPrefix(s.statusLocked(), "<")[:3])

	_, err = s.Write([]byte("!"))
	require.NoError(err)
	require.Equal("Hold:0", s.State())

	require.True(s.Fail(20))
	require.Equal(1, s.Ack(5))
	require.False(s.Fail(1))
	require.Zero(s.Buffered())
	require.False(s.Overflowed())

	_, err = s.Write([]byte("G1 X10 Y10 Z10 F100\nG0 X0\n"))
	require.NoError(err)
	require.True(s.Overflowed())
	require.Equal(26, s.MaxBuffered())
}

func TestSim_ResetAndAlarm(t *testing.T) {
	require := require.New(t)
	s := New(WithAutoAck(false))
	require.NoError(s.Open())

	_, _ = s.Write([]byte("G1 X1\n"))
	s.TriggerAlarm(1)
	require.Zero(s.Held())
	require.Equal("Alarm", s.State())

	_, _ = s.Write([]byte{0x18})
	require.Equal(1, s.Resets())
	require.Equal("Alarm", s.State(), "reset keeps the alarm")

	_, _ = s.Write([]byte("$X\n"))
	require.Equal(1, s.Ack(1))
	require.Equal("Idle", s.State())

	codec := firmware.NewCodec(firmware.GRBL)
	events := readEvents(t, s, codec, firmware.Acknowledged, 1)
	var kinds []firmware.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.Contains(kinds, firmware.AlarmCode)
	require.Contains(kinds, firmware.StartupInfo)
}

func TestSim_Overrides(t *testing.T) {
	require := require.New(t)
	s := New()
	require.NoError(s.Open())

	_, _ = s.Write([]byte{0x91, 0x91, 0x94, 0x97, 0x9B})
	feed, rapid, spindle := s.Overrides()
	require.Equal(119, feed)
	require.Equal(25, rapid)
	require.Equal(90, spindle)
}

func TestSim_Settings(t *testing.T) {
	require := require.New(t)
	s := New(WithSettings(map[string]string{"100": "250.000", "2": "0", "13": "1"}))
	require.NoError(s.Open())
	codec := firmware.NewCodec(firmware.GRBL)
	readEvents(t, s, codec, firmware.StartupInfo, 1)

	_, _ = s.Write([]byte("$$\n$100=80.5\n"))
	events := readEvents(t, s, codec, firmware.Acknowledged, 2)
	var keys []string
	for _, ev := range events {
		if ev.Kind == firmware.Setting {
			keys = append(keys, ev.Key)
		}
	}
	require.Equal([]string{"2", "13", "100"}, keys)
	v, ok := s.Setting("100")
	require.True(ok)
	require.Equal("80.5", v)
}

func TestSim_Drop(t *testing.T) {
	require := require.New(t)
	s := New()
	require.NoError(s.Open())

	s.Drop()
	_, err := s.TryRead(make([]byte, 8))
	require.ErrorIs(err, transport.ErrClosed)
	require.ErrorIs(s.Open(), ErrLinkDown)

	s.Restore()
	require.NoError(s.Open())
	require.Equal(2, s.Opens())
}

func TestSim_InjectRawHoldsOutput(t *testing.T) {
	require := require.New(t)
	s := New()
	require.NoError(s.Open())
	buf := make([]byte, 256)
	_, err := s.TryRead(buf)
	require.NoError(err)

	s.InjectRaw("err")
	_, err = s.Write([]byte("?"))
	require.NoError(err)
	n, err := s.TryRead(buf)
	require.NoError(err)
	require.Equal("err", string(buf[:n]))

	s.InjectRaw("or:9\r\n")
	n, err = s.TryRead(buf)
	require.NoError(err)
	require.True(strings.HasPrefix(string(buf[:n]), "or:9\r\n<Idle|"), "got %q", buf[:n])

	events := firmware.NewCodec(firmware.GRBL).Decode([]byte("err" + string(buf[:n])))
	require.Len(events, 2)
	require.Equal(firmware.ErrorCode, events[0].Kind)
	require.Equal(9, events[0].Code)
	require.Equal(firmware.StatusReport, events[1].Kind)
}
