package firmware

import "fmt"

// Realtime is an immediate command that bypasses the line protocol.
type Realtime uint8

const (
	StatusQuery Realtime = iota
	FeedHold
	CycleResume
	SoftReset
	SafetyDoor
	JogCancel
	FeedOverrideReset
	FeedOverridePlus10
	FeedOverrideMinus10
	FeedOverridePlus1
	FeedOverrideMinus1
	RapidOverride100
	RapidOverride50
	RapidOverride25
	SpindleOverrideReset
	SpindleOverridePlus10
	SpindleOverrideMinus10
	SpindleOverridePlus1
	SpindleOverrideMinus1
	SpindleStop
	FloodToggle
	MistToggle
)

var realtimeNames = [...]string{
	StatusQuery:            "status query",
	FeedHold:               "feed hold",
	CycleResume:            "cycle resume",
	SoftReset:              "soft reset",
	SafetyDoor:             "safety door",
	JogCancel:              "jog cancel",
	FeedOverrideReset:      "feed override reset",
	FeedOverridePlus10:     "feed override +10%",
	FeedOverrideMinus10:    "feed override -10%",
	FeedOverridePlus1:      "feed override +1%",
	FeedOverrideMinus1:     "feed override -1%",
	RapidOverride100:       "rapid override 100%",
	RapidOverride50:        "rapid override 50%",
	RapidOverride25:        "rapid override 25%",
	SpindleOverrideReset:   "spindle override reset",
	SpindleOverridePlus10:  "spindle override +10%",
	SpindleOverrideMinus10: "spindle override -10%",
	SpindleOverridePlus1:   "spindle override +1%",
	SpindleOverrideMinus1:  "spindle override -1%",
	SpindleStop:            "spindle stop",
	FloodToggle:            "flood toggle",
	MistToggle:             "mist toggle",
}

func (r Realtime) String() string {
	if int(r) < len(realtimeNames) {
		return realtimeNames[r]
	}
	return fmt.Sprintf("realtime(%d)", r)
}

// grblRealtime holds the GRBL 1.1 real-time command bytes.
var grblRealtime = map[Realtime]byte{
	StatusQuery:            '?',
	FeedHold:               '!',
	CycleResume:            '~',
	SoftReset:              0x18,
	SafetyDoor:             0x84,
	JogCancel:              0x85,
	FeedOverrideReset:      0x90,
	FeedOverridePlus10:     0x91,
	FeedOverrideMinus10:    0x92,
	FeedOverridePlus1:      0x93,
	FeedOverrideMinus1:     0x94,
	RapidOverride100:       0x95,
	RapidOverride50:        0x96,
	RapidOverride25:        0x97,
	SpindleOverrideReset:   0x99,
	SpindleOverridePlus10:  0x9A,
	SpindleOverrideMinus10: 0x9B,
	SpindleOverridePlus1:   0x9C,
	SpindleOverrideMinus1:  0x9D,
	SpindleStop:            0x9E,
	FloodToggle:            0xA0,
	MistToggle:             0xA1,
}

// IsRealtimeByte reports whether b is a GRBL real-time command byte.
// Such bytes are consumed by the firmware on receipt and never enter the line buffer.
func IsRealtimeByte(b byte) bool {
	if b == '?' || b == '!' || b == '~' || b == 0x18 {
		return true
	}
	return b >= 0x80
}

// OverrideKind selects which override a step plan targets.
type OverrideKind uint8

const (
	FeedOverride OverrideKind = iota
	RapidOverride
	SpindleOverride
)

func (k OverrideKind) String() string {
	switch k {
	case FeedOverride:
		return "feed"
	case RapidOverride:
		return "rapid"
	case SpindleOverride:
		return "spindle"
	default:
		return "unknown"
	}
}

// Override limits enforced by GRBL.
const (
	MinOverride = 10
	MaxOverride = 200
)

// OverrideSteps plans the real-time commands moving an override from current to target percent.
//
// Feed and spindle overrides move in 10% and 1% steps, optionally starting from a reset to
// 100% when that is shorter. Rapid override only accepts 25, 50 and 100.
func OverrideSteps(kind OverrideKind, current, target int) ([]Realtime, error) {
	if kind == RapidOverride {
		switch target {
		case 100:
			return []Realtime{RapidOverride100}, nil
		case 50:
			return []Realtime{RapidOverride50}, nil
		case 25:
			return []Realtime{RapidOverride25}, nil
		}
		return nil, fmt.Errorf("%w: rapid %d%%, want 25, 50 or 100", ErrOverrideRange, target)
	}

	if target < MinOverride || target > MaxOverride {
		return nil, fmt.Errorf("%w: %s %d%%, want %d-%d", ErrOverrideRange, kind, target, MinOverride, MaxOverride)
	}

	reset, plus10, minus10, plus1, minus1 := FeedOverrideReset, FeedOverridePlus10, FeedOverrideMinus10, FeedOverridePlus1, FeedOverrideMinus1
	if kind == SpindleOverride {
		reset, plus10, minus10, plus1, minus1 = SpindleOverrideReset, SpindleOverridePlus10, SpindleOverrideMinus10, SpindleOverridePlus1, SpindleOverrideMinus1
	}

	stepsFrom := func(from int) []Realtime {
		diff := target - from
		var out []Realtime
		for diff >= 10 {
			out = append(out, plus10)
			diff -= 10
		}
		for diff <= -10 {
			out = append(out, minus10)
			diff += 10
		}
		for diff > 0 {
			out = append(out, plus1)
			diff--
		}
		for diff < 0 {
			out = append(out, minus1)
			diff++
		}
		return out
	}

	if target == 100 {
		return []Realtime{reset}, nil
	}
	direct := stepsFrom(current)
	viaReset := append([]Realtime{reset}, stepsFrom(100)...)
	if current < MinOverride || current > MaxOverride || len(viaReset) < len(direct) {
		return viaReset, nil
	}

	return direct, nil
}
