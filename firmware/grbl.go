package firmware

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arloliu/go-cnc/machine"
)

// grblCodec implements the GRBL text protocol for GRBL, grblHAL and FluidNC.
type grblCodec struct {
	baseCodec
	// inches is set when $13=1 makes the firmware report positions in inches.
	inches bool
}

var _ Codec = (*grblCodec)(nil)

func newGrblCodec(f Family) *grblCodec {
	if !f.IsGrblFamily() {
		f = GRBL
	}
	return &grblCodec{baseCodec: newBaseCodec(f)}
}

func (c *grblCodec) EncodeRealtime(cmd Realtime) ([]byte, error) {
	b, ok := grblRealtime[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, c.family)
	}
	return []byte{b}, nil
}

func (c *grblCodec) EncodeLine(text string) []byte {
	return encodeTextLine(text)
}

func (c *grblCodec) SystemCommand(cmd System) (string, error) {
	switch cmd {
	case Unlock:
		return "$X", nil
	case HomeCycle:
		return "$H", nil
	case CheckModeToggle:
		return "$C", nil
	case SettingsQuery:
		return "$$", nil
	case BuildInfo:
		return "$I", nil
	case ParserState:
		return "$G", nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, c.family)
}

func (c *grblCodec) JogCommand(jog Jog) ([]string, error) {
	if err := jog.Validate(); err != nil {
		return nil, err
	}
	mode := "G91"
	if jog.Absolute {
		mode = "G90 G53"
	}
	return []string{"$J=" + mode + " G21 " + jog.words()}, nil
}

func (c *grblCodec) SettingCommand(key, value string) (string, error) {
	if !c.profile.SettingsWritable {
		return "", fmt.Errorf("%w: %s", ErrSettingsReadOnly, c.family)
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "$")
	value = strings.TrimSpace(value)
	if !isSettingKey(key) || value == "" || strings.ContainsAny(value, "\r\n") {
		return "", fmt.Errorf("%w: $%s=%s", ErrInvalidSetting, key, value)
	}
	return "$" + key + "=" + value, nil
}

func (c *grblCodec) Decode(data []byte) []Event {
	return c.decodeLines(data, c.decodeLine)
}

func (c *grblCodec) DecodeLine(line Line) []Event {
	return decodeAssembled(line, c.decodeLine)
}

var (
	grblBannerRe = regexp.MustCompile(`(?i)^(grbl|grblhal)\s+(\S+)`)
	fluidncRe    = regexp.MustCompile(`(?i)fluidnc\s+(v?\S+)`)
)

func (c *grblCodec) decodeLine(line string) []Event {
	lower := strings.ToLower(line)

	switch {
	case lower == "ok":
		return []Event{{Kind: Acknowledged, Raw: line}}

	case strings.HasPrefix(lower, "error:"):
		return []Event{decodeErrorCode(line, line[len("error:"):])}

	case strings.HasPrefix(lower, "alarm:"):
		return []Event{decodeAlarmCode(line, line[len("alarm:"):])}

	case strings.HasPrefix(line, "<"):
		report, ok := parseGrblStatus(line, c.inches)
		if !ok {
			return unrecognized(line)
		}
		return []Event{{Kind: StatusReport, Report: report, Raw: line}}

	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		key, value, _ := strings.Cut(line[1:], "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "13" {
			c.inches = value == "1"
		}
		return []Event{{Kind: Setting, Key: key, Value: value, Raw: line}}

	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		return []Event{c.decodeFeedback(line)}

	case grblBannerRe.MatchString(line):
		return []Event{c.decodeBanner(line)}
	}

	if f, ok := Detect(line); ok {
		return []Event{{Kind: StartupInfo, Info: &machine.FirmwareInfo{Family: f.String()}, Raw: line}}
	}

	return unrecognized(line)
}

func (c *grblCodec) decodeBanner(line string) Event {
	m := grblBannerRe.FindStringSubmatch(line)
	info := &machine.FirmwareInfo{Family: GRBL.String(), Version: m[2]}
	if strings.EqualFold(m[1], "grblhal") {
		info.Family = GrblHAL.String()
	}
	if fm := fluidncRe.FindStringSubmatch(line); fm != nil {
		info.Family = FluidNC.String()
		info.Version = fm[1]
	}
	info.BufferSize = ProfileOf(mustFamily(info.Family)).BufferSize

	return Event{Kind: StartupInfo, Info: info, Raw: line}
}

func (c *grblCodec) decodeFeedback(line string) Event {
	body := line[1 : len(line)-1]
	tag, text, found := strings.Cut(body, ":")
	if !found {
		return Event{Kind: Feedback, Message: body, Raw: line}
	}
	ev := Event{Kind: Feedback, Tag: tag, Message: text, Raw: line}

	switch strings.ToUpper(tag) {
	case "VER":
		// [VER:1.1h.20190825:optional name]
		// [VER:3.7 FluidNC v3.7.8:]
		ver, _, _ := strings.Cut(text, ":")
		info := &machine.FirmwareInfo{Version: ver}
		if fm := fluidncRe.FindStringSubmatch(ver); fm != nil {
			info.Family, info.Version = FluidNC.String(), fm[1]
		} else if i := strings.LastIndexByte(ver, '.'); i > 0 && len(ver)-i-1 == 8 {
			info.Version, info.Build = ver[:i], ver[i+1:]
		}
		ev.Info = info
	case "OPT":
		// [OPT:VNMZL,15,128] options, planner blocks, rx buffer bytes
		parts := strings.Split(text, ",")
		info := &machine.FirmwareInfo{Options: parts[0]}
		if len(parts) >= 3 {
			if n, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil && n > 0 {
				info.BufferSize = n
			}
		}
		ev.Info = info
	case "FIRMWARE":
		if f, ok := Detect(text); ok {
			ev.Info = &machine.FirmwareInfo{Family: f.String()}
		}
	case "AXS":
		// [AXS:4:XYZA]
		if n, err := strconv.Atoi(strings.SplitN(text, ":", 2)[0]); err == nil {
			ev.Info = &machine.FirmwareInfo{Axes: n}
		}
	}

	return ev
}

func decodeErrorCode(raw, body string) Event {
	body = strings.TrimSpace(body)
	if n, err := strconv.Atoi(body); err == nil {
		return Event{Kind: ErrorCode, Code: n, Message: ErrorMessage(n), Raw: raw}
	}
	// GRBL 0.9 and Smoothieware report text instead of a number
	return Event{Kind: ErrorCode, Message: body, Raw: raw}
}

func decodeAlarmCode(raw, body string) Event {
	body = strings.TrimSpace(body)
	if n, err := strconv.Atoi(body); err == nil {
		return Event{Kind: AlarmCode, Code: n, Message: AlarmMessage(n), Raw: raw}
	}
	return Event{Kind: AlarmCode, Message: body, Raw: raw}
}

func mustFamily(name string) Family {
	f, err := ParseFamily(name)
	if err != nil {
		return GRBL
	}
	return f
}
