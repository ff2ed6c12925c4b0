package machine

import (
	"fmt"
	"strings"
)

// Axis indexes a Position.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisA
	AxisB
	AxisC
	NumAxes
)

var axisNames = [NumAxes]string{"X", "Y", "Z", "A", "B", "C"}

func (a Axis) String() string {
	if a >= 0 && a < NumAxes {
		return axisNames[a]
	}
	return "?"
}

// ParseAxis parses a single axis letter.
func ParseAxis(s string) (Axis, bool) {
	for i, n := range axisNames {
		if strings.EqualFold(n, s) {
			return Axis(i), true
		}
	}
	return 0, false
}

// Units selects the linear unit at the application boundary.
type Units uint8

const (
	Millimeters Units = iota
	Inches
)

// MMPerInch converts inches to millimeters.
const MMPerInch = 25.4

func (u Units) String() string {
	if u == Inches {
		return "in"
	}
	return "mm"
}

// Position holds the six axis coordinates in millimeters.
type Position [NumAxes]float64

// Add returns p + o.
func (p Position) Add(o Position) Position {
	for i := range p {
		p[i] += o[i]
	}
	return p
}

// Sub returns p - o.
func (p Position) Sub(o Position) Position {
	for i := range p {
		p[i] -= o[i]
	}
	return p
}

// Scale returns p with every axis multiplied by f.
func (p Position) Scale(f float64) Position {
	for i := range p {
		p[i] *= f
	}
	return p
}

// In converts a millimeter position to the requested units.
func (p Position) In(u Units) Position {
	if u == Inches {
		return p.Scale(1 / MMPerInch)
	}
	return p
}

// FromUnits converts a position expressed in u into millimeters.
func FromUnits(p Position, u Units) Position {
	if u == Inches {
		return p.Scale(MMPerInch)
	}
	return p
}

func (p Position) String() string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f A%.3f B%.3f C%.3f", p[0], p[1], p[2], p[3], p[4], p[5])
}
