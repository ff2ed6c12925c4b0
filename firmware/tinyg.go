package firmware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arloliu/go-cnc/machine"
)

// jsonCodec implements the TinyG and g2core JSON line protocol.
type jsonCodec struct {
	baseCodec
	// inches tracks the "unit" field of status reports; 0 selects inches.
	inches bool
}

var _ Codec = (*jsonCodec)(nil)

func newJSONCodec(f Family) *jsonCodec {
	if !f.IsJSON() {
		f = TinyG
	}
	return &jsonCodec{baseCodec: newBaseCodec(f)}
}

var jsonRealtime = map[Realtime][]byte{
	StatusQuery: {'?'},
	FeedHold:    {'!'},
	CycleResume: {'~'},
	SoftReset:   {0x18},
	// hold, then flush the planner queue
	JogCancel: {'!', '%'},
}

// jsonStatus translates TinyG/g2core "stat" values.
var jsonStatus = map[int]machine.State{
	0:  machine.Idle, // initializing
	1:  machine.Idle, // ready
	2:  machine.Alarm,
	3:  machine.Idle, // program stop
	4:  machine.Idle, // program end
	5:  machine.Run,
	6:  machine.Hold,
	7:  machine.Run, // probe
	8:  machine.Run, // cycle
	9:  machine.Home,
	10: machine.Jog,
	11: machine.Door, // interlock
	12: machine.Alarm, // shutdown
	13: machine.Alarm, // panic
}

// jsonStatusMessages describes common footer status codes.
var jsonStatusMessages = map[int]string{
	1:   "General error",
	2:   "Operation would block",
	20:  "Internal error",
	40:  "Unrecognized command",
	41:  "Invalid or malformed command",
	42:  "Bad number format",
	43:  "Unsupported number or JSON type",
	44:  "Parameter is read-only",
	45:  "Parameter cannot be read",
	46:  "Command not accepted at this time",
	47:  "Input exceeds max length",
	100: "Generic assertion failure",
	101: "Generic range error",
	102: "Generic invalid value",
	103: "Value too large",
	104: "Value too small",
	108: "Parameter not found",
	109: "Command not accepted in alarm state",
	110: "Command not accepted in shutdown state",
	111: "Command not accepted in panic state",
	130: "Generic G-code input error",
	131: "G-code command unsupported",
	132: "M-code command unsupported",
	140: "Feed rate not specified",
	220: "Soft limit exceeded",
}

func jsonStatusMessage(code int) string {
	if msg, ok := jsonStatusMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Status code %d", code)
}

func (c *jsonCodec) EncodeRealtime(cmd Realtime) ([]byte, error) {
	b, ok := jsonRealtime[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, c.family)
	}
	return append([]byte(nil), b...), nil
}

// EncodeLine wraps G-code in a {"gc":...} object. Text that already is a JSON object is sent as is.
func (c *jsonCodec) EncodeLine(text string) []byte {
	line := NormalizeLine(text)
	if strings.HasPrefix(line, "{") {
		return append([]byte(line), '\n')
	}
	gc, _ := json.Marshal(line)
	b := make([]byte, 0, len(gc)+8)
	b = append(b, `{"gc":`...)
	b = append(b, gc...)
	b = append(b, '}', '\n')

	return b
}

func (c *jsonCodec) SystemCommand(cmd System) (string, error) {
	switch cmd {
	case Unlock:
		return `{"clear":null}`, nil
	case HomeCycle:
		return "G28.2 X0 Y0 Z0", nil
	case SettingsQuery:
		return `{"sys":null}`, nil
	case BuildInfo:
		return `{"fb":null}`, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, c.family)
}

func (c *jsonCodec) JogCommand(jog Jog) ([]string, error) {
	if err := jog.Validate(); err != nil {
		return nil, err
	}
	if jog.Absolute {
		return []string{"G90 G21 G1 " + jog.words()}, nil
	}
	return []string{"G91 G21 G1 " + jog.words(), "G90"}, nil
}

func (c *jsonCodec) SettingCommand(key, value string) (string, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return "", fmt.Errorf("%w: %s=%s", ErrInvalidSetting, key, value)
	}
	for _, ch := range key {
		if (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return "", fmt.Errorf("%w: key %q", ErrInvalidSetting, key)
		}
	}
	var encoded []byte
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		encoded = []byte(value)
	} else {
		encoded, _ = json.Marshal(value)
	}
	k, _ := json.Marshal(key)

	return "{" + string(k) + ":" + string(encoded) + "}", nil
}

func (c *jsonCodec) Decode(data []byte) []Event {
	return c.decodeLines(data, c.decodeLine)
}

func (c *jsonCodec) DecodeLine(line Line) []Event {
	return decodeAssembled(line, c.decodeLine)
}

func (c *jsonCodec) decodeLine(line string) []Event {
	if !strings.HasPrefix(line, "{") {
		if f, ok := Detect(line); ok && f.IsJSON() {
			return []Event{{Kind: StartupInfo, Info: &machine.FirmwareInfo{Family: f.String()}, Raw: line}}
		}
		return unrecognized(line)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return unrecognized(line)
	}

	switch {
	case obj["r"] != nil:
		return c.decodeResponse(line, obj)
	case obj["sr"] != nil:
		return c.decodeStatus(line, obj["sr"])
	case obj["er"] != nil:
		return []Event{decodeException(line, obj["er"])}
	case obj["qr"] != nil:
		var qr int
		if err := json.Unmarshal(obj["qr"], &qr); err != nil {
			return unrecognized(line)
		}
		r := machine.Report{SubState: -1, PlannerAvailable: &qr}
		return []Event{{Kind: StatusReport, Report: r, Raw: line}}
	}

	return []Event{{Kind: Feedback, Tag: "json", Message: line, Raw: line}}
}

// decodeResponse handles {"r":{...},"f":[rev,status,rx,...]}.
func (c *jsonCodec) decodeResponse(line string, obj map[string]json.RawMessage) []Event {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(obj["r"], &body); err != nil {
		return unrecognized(line)
	}

	if msg, ok := jsonString(body["msg"]); ok && strings.EqualFold(msg, "SYSTEM READY") {
		info := &machine.FirmwareInfo{Family: c.family.String(), BufferSize: c.profile.BufferSize}
		if fv, ok := jsonScalar(body["fv"]); ok {
			info.Version = fv
		}
		if fb, ok := jsonScalar(body["fb"]); ok {
			info.Build = fb
		}
		return []Event{{Kind: StartupInfo, Info: info, Raw: line}}
	}

	var events []Event
	if sr := body["sr"]; sr != nil {
		events = append(events, c.decodeStatus(line, sr)...)
	}
	for _, kv := range flattenSettings(body) {
		events = append(events, Event{Kind: Setting, Key: kv[0], Value: kv[1], Raw: line})
	}

	status := 0
	if f := obj["f"]; f != nil {
		var footer []float64
		if err := json.Unmarshal(f, &footer); err == nil && len(footer) >= 2 {
			status = int(footer[1])
		}
	}
	switch status {
	case 0, 3, 4:
		events = append(events, Event{Kind: Acknowledged, Raw: line})
	default:
		events = append(events, Event{Kind: ErrorCode, Code: status, Message: jsonStatusMessage(status), Raw: line})
	}

	return events
}

func (c *jsonCodec) decodeStatus(line string, raw json.RawMessage) []Event {
	var sr map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sr); err != nil || len(sr) == 0 {
		return unrecognized(line)
	}

	if u, ok := jsonNumber(sr["unit"]); ok {
		c.inches = u == 0
	}
	scale := 1.0
	if c.inches {
		scale = machine.MMPerInch
	}

	r := machine.Report{SubState: -1}
	if stat, ok := jsonNumber(sr["stat"]); ok {
		if state, known := jsonStatus[int(stat)]; known {
			r.State = &state
		}
	} else if name, ok := jsonString(sr["stat"]); ok {
		if state, _, known := machine.ParseState(name); known {
			r.State = &state
		}
	}

	axes := "xyzabc"
	var wpos, mpos machine.Position
	var hasW, hasM bool
	for i := range axes {
		if v, ok := jsonNumber(sr["pos"+axes[i:i+1]]); ok {
			wpos[i] = v * scale
			hasW = true
		}
		if v, ok := jsonNumber(sr["mpo"+axes[i:i+1]]); ok {
			mpos[i] = v * scale
			hasM = true
		}
	}
	if hasW {
		r.WorkPosition = &wpos
	}
	if hasM {
		r.MachinePosition = &mpos
	}

	if v, ok := jsonNumber(sr["vel"]); ok {
		feed := v * scale
		r.FeedRate = &feed
	} else if v, ok := jsonNumber(sr["feed"]); ok {
		feed := v * scale
		r.FeedRate = &feed
	}
	if v, ok := jsonNumber(sr["sps"]); ok {
		r.SpindleSpeed = &v
	} else if v, ok := jsonNumber(sr["speed"]); ok {
		r.SpindleSpeed = &v
	}
	for _, k := range []string{"line", "n"} {
		if v, ok := jsonNumber(sr[k]); ok {
			n := int(v)
			r.LineNumber = &n
			break
		}
	}

	if r.IsEmpty() {
		// a report carrying only the unit field still updates the codec
		return nil
	}

	return []Event{{Kind: StatusReport, Report: r, Raw: line}}
}

func decodeException(line string, raw json.RawMessage) Event {
	var er map[string]json.RawMessage
	_ = json.Unmarshal(raw, &er)

	ev := Event{Kind: Feedback, Tag: "er", Raw: line}
	for _, k := range []string{"st", "code"} {
		if v, ok := jsonNumber(er[k]); ok {
			ev.Code = int(v)
			break
		}
	}
	if msg, ok := jsonString(er["msg"]); ok {
		ev.Message = msg
	}

	return ev
}

// flattenSettings returns sorted key/value pairs of scalar fields, descending one level into groups.
func flattenSettings(body map[string]json.RawMessage) [][2]string {
	var out [][2]string
	for k, v := range body {
		if k == "gc" || k == "sr" || k == "msg" {
			continue
		}
		if s, ok := jsonScalar(v); ok {
			out = append(out, [2]string{k, s})
			continue
		}
		var group map[string]json.RawMessage
		if err := json.Unmarshal(v, &group); err != nil {
			continue
		}
		for gk, gv := range group {
			if s, ok := jsonScalar(gv); ok {
				out = append(out, [2]string{gk, s})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })

	return out
}

func jsonNumber(raw json.RawMessage) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func jsonString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// jsonScalar renders a number, string or bool as text.
func jsonScalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '{' || raw[0] == '[' || string(raw) == "null" {
		return "", false
	}
	if s, ok := jsonString(raw); ok {
		return s, true
	}
	return string(raw), true
}
