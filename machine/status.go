package machine

import "time"

// Overrides holds the active override percentages.
type Overrides struct {
	Feed    int
	Rapid   int
	Spindle int
}

// DefaultOverrides is the power-on override set.
var DefaultOverrides = Overrides{Feed: 100, Rapid: 100, Spindle: 100}

// FirmwareInfo describes the connected controller firmware.
type FirmwareInfo struct {
	Family     string
	Version    string
	Build      string
	Options    string
	BufferSize int
	Axes       int
}

// AlarmRecord is a latched controller fault.
type AlarmRecord struct {
	Code        int
	Description string
	RaisedAt    time.Time
}

// MachineStatus is an immutable snapshot of the controller.
// Values are never modified after publication; use Apply to derive the next snapshot.
type MachineStatus struct {
	State            State
	SubState         int
	MachinePosition  Position
	WorkPosition     Position
	WorkOffset       Position
	FeedRate         float64
	SpindleSpeed     float64
	BufferAvailable  int
	PlannerAvailable int
	LineNumber       int
	Pins             string
	Overrides        Overrides
	Firmware         FirmwareInfo
	Alarm            *AlarmRecord
	Timestamp        time.Time
}

// NewStatus returns the initial snapshot for a fresh session.
func NewStatus() *MachineStatus {
	return &MachineStatus{
		State:            Disconnected,
		SubState:         -1,
		BufferAvailable:  -1,
		PlannerAvailable: -1,
		Overrides:        DefaultOverrides,
		Timestamp:        time.Now(),
	}
}

// Report carries the fields of one decoded status report. Nil fields were absent.
type Report struct {
	State            *State
	SubState         int
	MachinePosition  *Position
	WorkPosition     *Position
	WorkOffset       *Position
	FeedRate         *float64
	SpindleSpeed     *float64
	BufferAvailable  *int
	PlannerAvailable *int
	LineNumber       *int
	Pins             *string
	Overrides        *Overrides
}

// IsEmpty reports whether the report carries no field at all.
func (r *Report) IsEmpty() bool {
	return r.State == nil && r.MachinePosition == nil && r.WorkPosition == nil &&
		r.WorkOffset == nil && r.FeedRate == nil && r.SpindleSpeed == nil &&
		r.BufferAvailable == nil && r.PlannerAvailable == nil && r.LineNumber == nil &&
		r.Pins == nil && r.Overrides == nil
}

// Apply returns a new snapshot with the report merged into s.
//
// Work and machine positions are derived from each other through the last known work
// offset when the report carries only one of them.
func (s *MachineStatus) Apply(r Report, now time.Time) *MachineStatus {
	next := *s
	next.Timestamp = now

	if r.State != nil {
		next.State = *r.State
		next.SubState = r.SubState
	}
	if r.WorkOffset != nil {
		next.WorkOffset = *r.WorkOffset
	}

	switch {
	case r.MachinePosition != nil && r.WorkPosition != nil:
		next.MachinePosition = *r.MachinePosition
		next.WorkPosition = *r.WorkPosition
		if r.WorkOffset == nil {
			next.WorkOffset = r.MachinePosition.Sub(*r.WorkPosition)
		}
	case r.MachinePosition != nil:
		next.MachinePosition = *r.MachinePosition
		next.WorkPosition = r.MachinePosition.Sub(next.WorkOffset)
	case r.WorkPosition != nil:
		next.WorkPosition = *r.WorkPosition
		next.MachinePosition = r.WorkPosition.Add(next.WorkOffset)
	case r.WorkOffset != nil:
		next.WorkPosition = next.MachinePosition.Sub(next.WorkOffset)
	}

	if r.FeedRate != nil {
		next.FeedRate = *r.FeedRate
	}
	if r.SpindleSpeed != nil {
		next.SpindleSpeed = *r.SpindleSpeed
	}
	if r.BufferAvailable != nil {
		next.BufferAvailable = *r.BufferAvailable
	}
	if r.PlannerAvailable != nil {
		next.PlannerAvailable = *r.PlannerAvailable
	}
	if r.LineNumber != nil {
		next.LineNumber = *r.LineNumber
	}
	if r.Pins != nil {
		next.Pins = *r.Pins
	}
	if r.Overrides != nil {
		next.Overrides = *r.Overrides
	}

	return &next
}

// PositionChanged reports whether the machine or work position differs between two snapshots.
func (s *MachineStatus) PositionChanged(o *MachineStatus) bool {
	if s == nil || o == nil {
		return s != o
	}
	return s.MachinePosition != o.MachinePosition || s.WorkPosition != o.WorkPosition
}

// WithState returns a copy of s with a new state.
func (s *MachineStatus) WithState(state State, now time.Time) *MachineStatus {
	next := *s
	next.State = state
	next.Timestamp = now
	return &next
}

// WithFirmware returns a copy of s with new firmware information.
func (s *MachineStatus) WithFirmware(info FirmwareInfo, now time.Time) *MachineStatus {
	next := *s
	next.Firmware = info
	next.Timestamp = now
	return &next
}

// WithAlarm returns a copy of s with the alarm record set or cleared.
func (s *MachineStatus) WithAlarm(a *AlarmRecord, now time.Time) *MachineStatus {
	next := *s
	if a != nil {
		cp := *a
		next.Alarm = &cp
	} else {
		next.Alarm = nil
	}
	next.Timestamp = now
	return &next
}
