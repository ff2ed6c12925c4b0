package firmware

import (
	"testing"

	"github.com/arloliu/go-cnc/machine"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_Responses(t *testing.T) {
	require := require.New(t)
	c := NewCodec(TinyG)

	ev := decodeOne(t, c, `{"r":{"gc":"G1 X10"},"f":[1,0,11,1234]}`)
	require.Equal(Acknowledged, ev.Kind)

	ev = decodeOne(t, c, `{"r":{},"f":[1,40,5,1234]}`)
	require.Equal(ErrorCode, ev.Kind)
	require.Equal(40, ev.Code)
	require.Equal("Unrecognized command", ev.Message)

	// no footer counts as success
	require.Equal(Acknowledged, decodeOne(t, c, `{"r":{}}`).Kind)

	events := c.Decode([]byte(`{"r":{"sys":{"fb":440.2,"fv":0.97}},"f":[1,0,12]}` + "\n"))
	require.Len(events, 3)
	require.Equal(Setting, events[0].Kind)
	require.Equal("fb", events[0].Key)
	require.Equal("440.2", events[0].Value)
	require.Equal("fv", events[1].Key)
	require.Equal(Acknowledged, events[2].Kind)

	ev = decodeOne(t, c, `{"r":{"fv":0.970,"fb":440.20,"hp":1,"msg":"SYSTEM READY"},"f":[1,0,0]}`)
	require.Equal(StartupInfo, ev.Kind)
	require.Equal("0.970", ev.Info.Version)
	require.Equal("440.20", ev.Info.Build)

	ev = decodeOne(t, c, `{"er":{"fb":440.2,"st":204,"msg":"Limit switch hit - Shutdown occurred"}}`)
	require.Equal(Feedback, ev.Kind)
	require.Equal("er", ev.Tag)
	require.Equal(204, ev.Code)
	require.False(ev.IsCommandResponse())

	ev = decodeOne(t, c, `{"qr":28}`)
	require.Equal(StatusReport, ev.Kind)
	require.Equal(28, *ev.Report.PlannerAvailable)

	require.Equal(Unrecognized, decodeOne(t, c, `{"r":`).Kind)
	require.Equal(Unrecognized, decodeOne(t, c, `hello`).Kind)
}

func TestJSONCodec_StatusReport(t *testing.T) {
	require := require.New(t)
	c := NewCodec(G2Core)

	ev := decodeOne(t, c, `{"sr":{"line":7,"posx":1.0,"posy":2.0,"posz":3.0,"mpox":11.0,"mpoy":12.0,"mpoz":13.0,"vel":250,"unit":1,"stat":5}}`)
	require.Equal(StatusReport, ev.Kind)
	r := ev.Report
	require.Equal(machine.Run, *r.State)
	require.Equal(7, *r.LineNumber)
	require.Equal(machine.Position{1, 2, 3}, *r.WorkPosition)
	require.Equal(machine.Position{11, 12, 13}, *r.MachinePosition)
	require.Equal(250.0, *r.FeedRate)

	// unit 0 switches to inch reports, and filtered reports carry only changed fields
	ev = decodeOne(t, c, `{"sr":{"unit":0,"posx":1.0}}`)
	require.InDelta(25.4, ev.Report.WorkPosition[machine.AxisX], 1e-9)
	require.Nil(ev.Report.State)

	ev = decodeOne(t, c, `{"sr":{"stat":6}}`)
	require.Equal(machine.Hold, *ev.Report.State)

	require.Empty(c.Decode([]byte(`{"sr":{"unit":1}}` + "\n")))
}

func TestJSONCodec_Encode(t *testing.T) {
	require := require.New(t)
	c := NewCodec(TinyG)

	require.Equal(`{"gc":"G1 X10 F500"}`+"\n", string(c.EncodeLine(" G1  X10 F500")))
	require.Equal(`{"sr":null}`+"\n", string(c.EncodeLine(`{"sr":null}`)))

	b, err := c.EncodeRealtime(JogCancel)
	require.NoError(err)
	require.Equal([]byte("!%"), b)
	_, err = c.EncodeRealtime(FeedOverridePlus10)
	require.ErrorIs(err, ErrUnsupportedCommand)

	cmd, err := c.SystemCommand(SettingsQuery)
	require.NoError(err)
	require.Equal(`{"sys":null}`, cmd)

	lines, err := c.JogCommand(Jog{Axes: map[machine.Axis]float64{machine.AxisX: 5}, Feed: 1000})
	require.NoError(err)
	require.Equal([]string{"G91 G21 G1 X5 F1000", "G90"}, lines)

	set, err := c.SettingCommand("xvm", "16000")
	require.NoError(err)
	require.Equal(`{"xvm":16000}`, set)
	set, err = c.SettingCommand("id", "abc")
	require.NoError(err)
	require.Equal(`{"id":"abc"}`, set)
	_, err = c.SettingCommand("x vm", "1")
	require.ErrorIs(err, ErrInvalidSetting)
}

func TestJSONCodec_Fragmented(t *testing.T) {
	require := require.New(t)
	c := NewCodec(TinyG)

	msg := `{"r":{"gc":"G0 X1"},"f":[1,0,8]}` + "\n"
	var events []Event
	for i := 0; i < len(msg); i += 5 {
		end := min(i+5, len(msg))
		events = append(events, c.Decode([]byte(msg[i:end]))...)
	}
	require.Len(events, 1)
	require.Equal(Acknowledged, events[0].Kind)
}
