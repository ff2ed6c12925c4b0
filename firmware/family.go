package firmware

import (
	"fmt"
	"strings"
)

// Family identifies a controller firmware family.
type Family uint8

const (
	GRBL Family = iota
	GrblHAL
	FluidNC
	Smoothieware
	TinyG
	G2Core
)

var familyNames = [...]string{
	GRBL:         "grbl",
	GrblHAL:      "grblhal",
	FluidNC:      "fluidnc",
	Smoothieware: "smoothieware",
	TinyG:        "tinyg",
	G2Core:       "g2core",
}

func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return fmt.Sprintf("family(%d)", f)
}

// Families returns every supported family.
func Families() []Family {
	return []Family{GRBL, GrblHAL, FluidNC, Smoothieware, TinyG, G2Core}
}

// ParseFamily parses a family name, ignoring case, dashes and spaces.
func ParseFamily(name string) (Family, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	switch key {
	case "smoothie":
		return Smoothieware, nil
	case "g2":
		return G2Core, nil
	}
	for i, n := range familyNames {
		if n == key {
			return Family(i), nil
		}
	}

	return GRBL, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
}

// IsJSON reports whether the family uses the JSON line protocol.
func (f Family) IsJSON() bool {
	return f == TinyG || f == G2Core
}

// IsGrblFamily reports whether the family speaks the GRBL text grammar.
func (f Family) IsGrblFamily() bool {
	return f == GRBL || f == GrblHAL || f == FluidNC
}

// Profile holds the static capabilities of a firmware family.
type Profile struct {
	Family           Family
	BufferSize       int // receive buffer in bytes, as documented by the firmware
	MaxAxes          int
	SettingsWritable bool
	Features         []Feature
}

// Capacity returns the usable character-counting budget for the profile.
//
// One byte of the receive buffer is kept free, so a 128 byte GRBL buffer yields 127.
func (p Profile) Capacity() int {
	return CapacityFor(p.BufferSize)
}

// CapacityFor returns the usable budget for a receive buffer of size bytes.
func CapacityFor(size int) int {
	if size <= 1 {
		return 1
	}
	return size - 1
}

var profiles = map[Family]Profile{
	GRBL: {
		Family: GRBL, BufferSize: 128, MaxAxes: 3, SettingsWritable: true,
		Features: []Feature{ArcMotion, Probing, LaserMode, Overrides, Jogging, Homing, CheckMode, WorkCoordinateSystems},
	},
	GrblHAL: {
		Family: GrblHAL, BufferSize: 256, MaxAxes: 6, SettingsWritable: true,
		Features: []Feature{
			ArcMotion, Probing, LaserMode, MultiAxis, ToolChange, Overrides, Jogging, Homing,
			CheckMode, WorkCoordinateSystems, FileSystem, NetworkConnectivity,
		},
	},
	FluidNC: {
		Family: FluidNC, BufferSize: 512, MaxAxes: 6, SettingsWritable: false,
		Features: []Feature{
			ArcMotion, Probing, LaserMode, MultiAxis, ToolChange, Overrides, Jogging, Homing,
			CheckMode, WorkCoordinateSystems, FileSystem, NetworkConnectivity,
		},
	},
	Smoothieware: {
		Family: Smoothieware, BufferSize: 128, MaxAxes: 6, SettingsWritable: true,
		Features: []Feature{ArcMotion, Probing, LaserMode, MultiAxis, Jogging, Homing, WorkCoordinateSystems, FileSystem, NetworkConnectivity},
	},
	TinyG: {
		Family: TinyG, BufferSize: 64, MaxAxes: 6, SettingsWritable: true,
		Features: []Feature{ArcMotion, Probing, MultiAxis, Homing, WorkCoordinateSystems},
	},
	G2Core: {
		Family: G2Core, BufferSize: 256, MaxAxes: 6, SettingsWritable: true,
		Features: []Feature{ArcMotion, Probing, LaserMode, MultiAxis, ToolChange, Homing, WorkCoordinateSystems},
	},
}

// ProfileOf returns the static profile of a family.
func ProfileOf(f Family) Profile {
	if p, ok := profiles[f]; ok {
		return p
	}
	return profiles[GRBL]
}

// Supports reports whether the profile lists the feature.
func (p Profile) Supports(feature Feature) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Detect identifies the firmware family from a startup banner or version line.
func Detect(line string) (Family, bool) {
	l := strings.ToLower(strings.TrimSpace(line))
	switch {
	case strings.Contains(l, "fluidnc"):
		return FluidNC, true
	case strings.HasPrefix(l, "grblhal"), strings.Contains(l, "[firmware:grblhal]"):
		return GrblHAL, true
	case strings.HasPrefix(l, "grbl "), strings.HasPrefix(l, "grbl v"):
		return GRBL, true
	case strings.Contains(l, "smoothie"):
		return Smoothieware, true
	case strings.Contains(l, "g2core"):
		return G2Core, true
	case strings.Contains(l, "tinyg"):
		return TinyG, true
	}

	return GRBL, false
}
