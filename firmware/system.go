package firmware

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/arloliu/go-cnc/machine"
)

// System is a firmware system command sent through the line protocol.
type System uint8

const (
	Unlock System = iota
	HomeCycle
	CheckModeToggle
	SettingsQuery
	BuildInfo
	ParserState
)

var systemNames = [...]string{
	Unlock:          "unlock",
	HomeCycle:       "home",
	CheckModeToggle: "check mode",
	SettingsQuery:   "settings query",
	BuildInfo:       "build info",
	ParserState:     "parser state",
}

func (s System) String() string {
	if int(s) < len(systemNames) {
		return systemNames[s]
	}
	return fmt.Sprintf("system(%d)", s)
}

// Jog describes a jog request. Distances and feed are in millimeters.
type Jog struct {
	// Axes maps each moving axis to its distance, or its target when Absolute is set.
	Axes map[machine.Axis]float64
	// Feed is the jog feed rate in mm/min.
	Feed float64
	// Absolute selects machine-absolute targets instead of relative distances.
	Absolute bool
}

// Validate checks that the jog moves at least one axis at a positive feed.
func (j Jog) Validate() error {
	if len(j.Axes) == 0 {
		return fmt.Errorf("%w: no axis", ErrInvalidJog)
	}
	if j.Feed <= 0 || math.IsNaN(j.Feed) || math.IsInf(j.Feed, 0) {
		return fmt.Errorf("%w: feed %v", ErrInvalidJog, j.Feed)
	}
	for ax, v := range j.Axes {
		if ax < 0 || ax >= machine.NumAxes {
			return fmt.Errorf("%w: axis %d", ErrInvalidJog, ax)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s %v", ErrInvalidJog, ax, v)
		}
	}
	return nil
}

// words renders the axis words and feed, for example "X10 Y-2.5 F500".
func (j Jog) words() string {
	axes := make([]machine.Axis, 0, len(j.Axes))
	for ax := range j.Axes {
		axes = append(axes, ax)
	}
	sort.Slice(axes, func(a, b int) bool { return axes[a] < axes[b] })

	var sb strings.Builder
	for _, ax := range axes {
		sb.WriteString(ax.String())
		sb.WriteString(formatNumber(j.Axes[ax]))
		sb.WriteByte(' ')
	}
	sb.WriteByte('F')
	sb.WriteString(formatNumber(j.Feed))

	return sb.String()
}

// formatNumber renders v with at most four decimals and no trailing zeros.
func formatNumber(v float64) string {
	v = math.Round(v*1e4) / 1e4
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
