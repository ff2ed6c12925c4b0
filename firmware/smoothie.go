package firmware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-cnc/machine"
)

// smoothieCodec implements the Smoothieware text protocol.
type smoothieCodec struct {
	baseCodec
}

var _ Codec = (*smoothieCodec)(nil)

func newSmoothieCodec() *smoothieCodec {
	return &smoothieCodec{baseCodec: newBaseCodec(Smoothieware)}
}

var smoothieRealtime = map[Realtime]byte{
	StatusQuery: '?',
	FeedHold:    '!',
	CycleResume: '~',
	SoftReset:   0x18,
}

func (c *smoothieCodec) EncodeRealtime(cmd Realtime) ([]byte, error) {
	b, ok := smoothieRealtime[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, c.family)
	}
	return []byte{b}, nil
}

func (c *smoothieCodec) EncodeLine(text string) []byte {
	return encodeTextLine(text)
}

func (c *smoothieCodec) SystemCommand(cmd System) (string, error) {
	switch cmd {
	case Unlock:
		return "$X", nil
	case HomeCycle:
		return "$H", nil
	case SettingsQuery:
		return "M503", nil
	case BuildInfo:
		return "version", nil
	case ParserState:
		return "$G", nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, c.family)
}

func (c *smoothieCodec) JogCommand(jog Jog) ([]string, error) {
	if err := jog.Validate(); err != nil {
		return nil, err
	}
	if jog.Absolute {
		return nil, fmt.Errorf("%w: absolute jog on %s", ErrUnsupportedCommand, c.family)
	}
	return []string{"$J " + jog.words()}, nil
}

func (c *smoothieCodec) SettingCommand(key, value string) (string, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" || strings.ContainsAny(key+value, " \r\n") {
		return "", fmt.Errorf("%w: %s=%s", ErrInvalidSetting, key, value)
	}
	return "config-set sd " + key + " " + value, nil
}

func (c *smoothieCodec) Decode(data []byte) []Event {
	return c.decodeLines(data, c.decodeLine)
}

func (c *smoothieCodec) DecodeLine(line Line) []Event {
	return decodeAssembled(line, c.decodeLine)
}

func (c *smoothieCodec) decodeLine(line string) []Event {
	lower := strings.ToLower(line)

	switch {
	case lower == "ok":
		return []Event{{Kind: Acknowledged, Raw: line}}

	case strings.HasPrefix(lower, "ok "):
		// "ok C: X:1.0 Y:2.0 Z:3.0" answers M114 and acknowledges it in one line
		events := []Event{{Kind: Acknowledged, Raw: line}}
		if report, ok := parseSmoothiePosition(line[3:]); ok {
			events = append(events, Event{Kind: StatusReport, Report: report, Raw: line})
		}
		return events

	case strings.HasPrefix(lower, "error:"):
		return []Event{decodeErrorCode(line, line[len("error:"):])}

	case line == "!!":
		return []Event{{Kind: AlarmCode, Message: "Halted, reset or unlock to continue", Raw: line}}

	case strings.HasPrefix(lower, "alarm:"):
		return []Event{decodeAlarmCode(line, line[len("alarm:"):])}

	case strings.HasPrefix(line, "<"):
		report, ok := parseGrblStatus(line, false)
		if !ok {
			return unrecognized(line)
		}
		return []Event{{Kind: StatusReport, Report: report, Raw: line}}

	case strings.HasPrefix(lower, "smoothie"), strings.HasPrefix(lower, "build version:"):
		return []Event{decodeSmoothieBanner(line)}

	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		tag, text, _ := strings.Cut(line[1:len(line)-1], ":")
		return []Event{{Kind: Feedback, Tag: tag, Message: text, Raw: line}}

	case strings.HasPrefix(line, ";"):
		return []Event{{Kind: Feedback, Tag: "comment", Message: strings.TrimSpace(line[1:]), Raw: line}}

	case len(line) > 1 && line[0] == 'M' && line[1] >= '0' && line[1] <= '9':
		// M503 dumps settings as "M92 X80.0 Y80.0 Z1600.0"
		key, value, _ := strings.Cut(line, " ")
		return []Event{{Kind: Setting, Key: key, Value: strings.TrimSpace(value), Raw: line}}
	}

	if report, ok := parseSmoothiePosition(line); ok {
		return []Event{{Kind: StatusReport, Report: report, Raw: line}}
	}

	return unrecognized(line)
}

// parseSmoothiePosition parses "C: X:1.0 Y:2.0 Z:3.0" style position feedback.
func parseSmoothiePosition(text string) (machine.Report, bool) {
	var r machine.Report
	var p machine.Position
	found := 0
	for _, word := range strings.Fields(text) {
		name, value, ok := strings.Cut(word, ":")
		if !ok || len(name) != 1 || value == "" {
			continue
		}
		ax, ok := machine.ParseAxis(name)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return r, false
		}
		p[ax] = v
		found++
	}
	if found < 3 {
		return r, false
	}
	r.SubState = -1
	r.WorkPosition = &p

	return r, true
}

func decodeSmoothieBanner(line string) Event {
	info := &machine.FirmwareInfo{Family: Smoothieware.String(), BufferSize: ProfileOf(Smoothieware).BufferSize}
	// Build version: edge-3332442, Build date: ..., MCU: LPC1769
	if _, rest, ok := strings.Cut(line, "version:"); ok {
		ver, _, _ := strings.Cut(rest, ",")
		info.Version = strings.TrimSpace(ver)
	}
	return Event{Kind: StartupInfo, Info: info, Raw: line}
}
