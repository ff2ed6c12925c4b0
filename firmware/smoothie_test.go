package firmware

import (
	"testing"

	"github.com/arloliu/go-cnc/machine"
	"github.com/stretchr/testify/require"
)

func TestSmoothieCodec_Decode(t *testing.T) {
	require := require.New(t)
	c := NewCodec(Smoothieware)

	require.Equal(Acknowledged, decodeOne(t, c, "ok").Kind)

	ev := decodeOne(t, c, "Error: Unsupported command")
	require.Equal(ErrorCode, ev.Kind)
	require.Equal("Unsupported command", ev.Message)

	ev = decodeOne(t, c, "!!")
	require.Equal(AlarmCode, ev.Kind)

	ev = decodeOne(t, c, "<Idle|MPos:1.0000,2.0000,3.0000|WPos:1.0000,2.0000,3.0000|F:0.0,100.0>")
	require.Equal(StatusReport, ev.Kind)
	require.Equal(machine.Idle, *ev.Report.State)

	events := c.Decode([]byte("ok C: X:1.5000 Y:2.0000 Z:-3.0000\n"))
	require.Len(events, 2)
	require.Equal(Acknowledged, events[0].Kind)
	require.Equal(StatusReport, events[1].Kind)
	require.Equal(machine.Position{1.5, 2, -3}, *events[1].Report.WorkPosition)

	ev = decodeOne(t, c, "Build version: edge-3332442, Build date: Nov 1 2019, MCU: LPC1769")
	require.Equal(StartupInfo, ev.Kind)
	require.Equal("edge-3332442", ev.Info.Version)
	require.Equal(Smoothieware.String(), ev.Info.Family)

	ev = decodeOne(t, c, "M92 X80.0000 Y80.0000 Z1600.0000")
	require.Equal(Setting, ev.Kind)
	require.Equal("M92", ev.Key)
	require.Equal("X80.0000 Y80.0000 Z1600.0000", ev.Value)

	require.Equal(Unrecognized, decodeOne(t, c, "whatever").Kind)
}

func TestSmoothieCodec_Encode(t *testing.T) {
	require := require.New(t)
	c := NewCodec(Smoothieware)

	b, err := c.EncodeRealtime(FeedHold)
	require.NoError(err)
	require.Equal([]byte{'!'}, b)
	_, err = c.EncodeRealtime(FeedOverridePlus10)
	require.ErrorIs(err, ErrUnsupportedCommand)

	cmd, err := c.SystemCommand(SettingsQuery)
	require.NoError(err)
	require.Equal("M503", cmd)
	_, err = c.SystemCommand(CheckModeToggle)
	require.ErrorIs(err, ErrUnsupportedCommand)

	lines, err := c.JogCommand(Jog{Axes: map[machine.Axis]float64{machine.AxisX: 1}, Feed: 300})
	require.NoError(err)
	require.Equal([]string{"$J X1 F300"}, lines)
	_, err = c.JogCommand(Jog{Axes: map[machine.Axis]float64{machine.AxisX: 1}, Feed: 300, Absolute: true})
	require.ErrorIs(err, ErrUnsupportedCommand)

	set, err := c.SettingCommand("alpha_steps_per_mm", "80")
	require.NoError(err)
	require.Equal("config-set sd alpha_steps_per_mm 80", set)
}
