package firmware

import "github.com/arloliu/go-cnc/machine"

// EventKind classifies a decoded response.
type EventKind uint8

const (
	// Acknowledged reports that the oldest outstanding line was accepted.
	Acknowledged EventKind = iota
	// ErrorCode reports that the oldest outstanding line was rejected.
	ErrorCode
	// AlarmCode reports a controller fault.
	AlarmCode
	// StatusReport carries a partial MachineStatus.
	StatusReport
	// StartupInfo reports a firmware banner; the controller has just reset.
	StartupInfo
	// Setting carries one configuration key and value.
	Setting
	// Feedback carries an informational message such as [MSG:..] or [GC:..].
	Feedback
	// Unrecognized carries input no grammar rule matched.
	Unrecognized
)

var eventKindNames = [...]string{
	Acknowledged: "ack",
	ErrorCode:    "error",
	AlarmCode:    "alarm",
	StatusReport: "status",
	StartupInfo:  "startup",
	Setting:      "setting",
	Feedback:     "feedback",
	Unrecognized: "unrecognized",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is one decoded controller response.
type Event struct {
	Kind EventKind
	// Code is the error or alarm number.
	Code int
	// Message is the translated error or alarm text, or the feedback text.
	Message string
	// Tag names the feedback kind, for example "MSG", "GC", "VER", "OPT" or "PRB".
	Tag string
	// Report holds the fields of a StatusReport.
	Report machine.Report
	// Info carries firmware details from StartupInfo, VER or OPT feedback.
	Info *machine.FirmwareInfo
	// Key and Value hold a Setting.
	Key   string
	Value string
	// Raw is the original line without its terminator.
	Raw string
}

// IsCommandResponse reports whether the event consumes the oldest outstanding line.
func (e Event) IsCommandResponse() bool {
	return e.Kind == Acknowledged || e.Kind == ErrorCode
}
