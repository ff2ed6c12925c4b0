package firmware

import (
	"strings"
)

// Codec encodes commands for and decodes responses from one firmware family.
//
// A Codec keeps the partial-line buffer and report unit state of a single connection.
// It is not safe for concurrent use; the controller I/O loop owns it.
type Codec interface {
	// Family returns the firmware family handled by the codec.
	Family() Family
	// EncodeRealtime returns the immediate bytes for a real-time command.
	EncodeRealtime(cmd Realtime) ([]byte, error)
	// EncodeLine returns a protocol-correct, terminated line for a program command.
	EncodeLine(text string) []byte
	// Decode consumes received bytes and returns the events of every line they complete.
	Decode(data []byte) []Event
	// DecodeLine returns the events of one line assembled by the caller.
	DecodeLine(line Line) []Event
	// Reset drops buffered partial input.
	Reset()
	// SettingsWritable reports whether settings may be written through the line protocol.
	SettingsWritable() bool
	// Supports reports whether the family offers the feature.
	Supports(feature Feature) bool
	// BufferCapacity returns the default character-counting budget.
	BufferCapacity() int
	// SystemCommand returns the line text of a system command.
	SystemCommand(cmd System) (string, error)
	// JogCommand returns the line texts of a jog request.
	JogCommand(jog Jog) ([]string, error)
	// SettingCommand returns the line text writing a setting.
	SettingCommand(key, value string) (string, error)
}

// NewCodec creates the codec of a family.
func NewCodec(f Family) Codec {
	switch f {
	case Smoothieware:
		return newSmoothieCodec()
	case TinyG, G2Core:
		return newJSONCodec(f)
	default:
		return newGrblCodec(f)
	}
}

// NormalizeLine trims a command and collapses internal whitespace runs to one space.
func NormalizeLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// baseCodec holds the behavior shared by every family.
type baseCodec struct {
	family    Family
	profile   Profile
	assembler LineAssembler
}

func newBaseCodec(f Family) baseCodec {
	return baseCodec{family: f, profile: ProfileOf(f)}
}

func (c *baseCodec) Family() Family { return c.family }

func (c *baseCodec) Reset() { c.assembler.Reset() }

func (c *baseCodec) SettingsWritable() bool { return c.profile.SettingsWritable }

func (c *baseCodec) Supports(feature Feature) bool { return c.profile.Supports(feature) }

func (c *baseCodec) BufferCapacity() int { return c.profile.Capacity() }

// decodeLines runs fn on every completed line, mapping truncated lines to Unrecognized.
func (c *baseCodec) decodeLines(data []byte, fn func(line string) []Event) []Event {
	var events []Event
	for _, line := range c.assembler.Feed(data) {
		events = append(events, decodeAssembled(line, fn)...)
	}
	return events
}

func decodeAssembled(line Line, fn func(line string) []Event) []Event {
	if line.Truncated {
		return unrecognized(line.Text)
	}
	return fn(line.Text)
}

// encodeTextLine normalizes text and appends the newline terminator.
func encodeTextLine(text string) []byte {
	line := NormalizeLine(text)
	b := make([]byte, 0, len(line)+1)
	b = append(b, line...)
	return append(b, '\n')
}

func unrecognized(line string) []Event {
	return []Event{{Kind: Unrecognized, Raw: line}}
}

// isSettingKey reports whether key is a plain GRBL numeric setting key.
func isSettingKey(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
