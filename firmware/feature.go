package firmware

// Feature is an optional controller capability.
type Feature uint8

const (
	ArcMotion Feature = iota
	Probing
	LaserMode
	MultiAxis
	ToolChange
	Overrides
	Jogging
	Homing
	CheckMode
	WorkCoordinateSystems
	FileSystem
	NetworkConnectivity
)

var featureNames = [...]string{
	ArcMotion:             "arc motion",
	Probing:               "probing",
	LaserMode:             "laser mode",
	MultiAxis:             "multi-axis",
	ToolChange:            "tool change",
	Overrides:             "overrides",
	Jogging:               "jogging",
	Homing:                "homing",
	CheckMode:             "check mode",
	WorkCoordinateSystems: "work coordinate systems",
	FileSystem:            "file system",
	NetworkConnectivity:   "network connectivity",
}

func (f Feature) String() string {
	if int(f) < len(featureNames) {
		return featureNames[f]
	}
	return "unknown feature"
}
