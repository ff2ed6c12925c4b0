package firmware

import (
	"strconv"
	"strings"

	"github.com/arloliu/go-cnc/machine"
)

// parseGrblStatus parses a "<State|Field:v,..|...>" report, including the comma separated
// GRBL 0.9 form. ok is false when neither a state nor any field could be read.
func parseGrblStatus(line string, inches bool) (machine.Report, bool) {
	var r machine.Report
	if len(line) < 3 || line[0] != '<' || line[len(line)-1] != '>' {
		return r, false
	}
	body := line[1 : len(line)-1]

	var fields []string
	if strings.Contains(body, "|") {
		fields = strings.Split(body, "|")
	} else {
		fields = splitLegacyFields(body)
	}
	if len(fields) == 0 {
		return r, false
	}

	r.SubState = -1
	if state, sub, ok := machine.ParseState(fields[0]); ok {
		r.State = &state
		r.SubState = sub
	}

	scale := 1.0
	if inches {
		scale = machine.MMPerInch
	}

	for _, field := range fields[1:] {
		name, value, found := strings.Cut(field, ":")
		if !found {
			continue
		}
		switch name {
		case "MPos":
			if p, ok := parsePosition(value, scale); ok {
				r.MachinePosition = &p
			}
		case "WPos":
			if p, ok := parsePosition(value, scale); ok {
				r.WorkPosition = &p
			}
		case "WCO":
			if p, ok := parsePosition(value, scale); ok {
				r.WorkOffset = &p
			}
		case "Bf":
			nums := parseInts(value)
			if len(nums) >= 1 {
				r.PlannerAvailable = &nums[0]
			}
			if len(nums) >= 2 {
				r.BufferAvailable = &nums[1]
			}
		case "Buf":
			if nums := parseInts(value); len(nums) >= 1 {
				r.PlannerAvailable = &nums[0]
			}
		case "RX":
			if nums := parseInts(value); len(nums) >= 1 {
				r.BufferAvailable = &nums[0]
			}
		case "Ln":
			if nums := parseInts(value); len(nums) >= 1 {
				r.LineNumber = &nums[0]
			}
		case "F":
			if nums := parseFloats(value); len(nums) >= 1 {
				feed := nums[0] * scale
				r.FeedRate = &feed
			}
		case "FS":
			nums := parseFloats(value)
			if len(nums) >= 1 {
				feed := nums[0] * scale
				r.FeedRate = &feed
			}
			if len(nums) >= 2 {
				r.SpindleSpeed = &nums[1]
			}
		case "Ov":
			if nums := parseInts(value); len(nums) >= 3 {
				r.Overrides = &machine.Overrides{Feed: nums[0], Rapid: nums[1], Spindle: nums[2]}
			}
		case "Pn":
			pins := value
			r.Pins = &pins
		}
	}

	if r.IsEmpty() {
		return r, false
	}

	return r, true
}

// splitLegacyFields splits "Idle,MPos:1,2,3,WPos:1,2,3" into ["Idle" "MPos:1,2,3" "WPos:1,2,3"].
// A comma starts a new field only when a letter follows it.
func splitLegacyFields(body string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(body); i++ {
		if body[i] != ',' || i+1 >= len(body) {
			continue
		}
		next := body[i+1]
		if (next >= 'A' && next <= 'Z') || (next >= 'a' && next <= 'z') {
			fields = append(fields, body[start:i])
			start = i + 1
		}
	}
	return append(fields, body[start:])
}

func parsePosition(value string, scale float64) (machine.Position, bool) {
	var p machine.Position
	nums := parseFloats(value)
	if len(nums) == 0 || len(nums) > int(machine.NumAxes) {
		return p, false
	}
	for i, v := range nums {
		p[i] = v * scale
	}
	return p, true
}

// parseFloats parses a comma separated list; any malformed element voids the list.
func parseFloats(value string) []float64 {
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, s := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

func parseInts(value string) []int {
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, s := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
