// Package event defines the notifications a controller publishes and the listener registry
// that fans them out.
package event

import (
	"fmt"
	"time"

	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/stream"
)

// Kind identifies an event type.
type Kind uint8

const (
	KindConnected Kind = iota
	KindDisconnected
	KindMachineStateChanged
	KindPositionUpdated
	KindStatusUpdated
	KindStreamingStarted
	KindStreamingProgress
	KindStreamingPaused
	KindStreamingResumed
	KindStreamingComplete
	KindStreamingCancelled
	KindStreamingError
	KindStreamStalled
	KindAlarmRaised
	KindAlarmCleared
	KindSettingsLoaded
	KindFeedbackMessage
	KindReconnecting
	KindReconnectFailed
)

var kindNames = [...]string{
	KindConnected:           "Connected",
	KindDisconnected:        "Disconnected",
	KindMachineStateChanged: "MachineStateChanged",
	KindPositionUpdated:     "PositionUpdated",
	KindStatusUpdated:       "StatusUpdated",
	KindStreamingStarted:    "StreamingStarted",
	KindStreamingProgress:   "StreamingProgress",
	KindStreamingPaused:     "StreamingPaused",
	KindStreamingResumed:    "StreamingResumed",
	KindStreamingComplete:   "StreamingComplete",
	KindStreamingCancelled:  "StreamingCancelled",
	KindStreamingError:      "StreamingError",
	KindStreamStalled:       "StreamStalled",
	KindAlarmRaised:         "AlarmRaised",
	KindAlarmCleared:        "AlarmCleared",
	KindSettingsLoaded:      "SettingsLoaded",
	KindFeedbackMessage:     "FeedbackMessage",
	KindReconnecting:        "Reconnecting",
	KindReconnectFailed:     "ReconnectFailed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Event is a controller notification. Listeners switch on the concrete type.
type Event interface {
	Kind() Kind
}

// Connected is published once the firmware identified itself.
type Connected struct {
	Firmware machine.FirmwareInfo
	Port     string
}

// Disconnected is published when a session ends. Err is nil for a requested disconnect.
type Disconnected struct {
	Err error
}

// MachineStateChanged is published on every controller state transition.
type MachineStateChanged struct {
	Previous machine.State
	Current  machine.State
}

// PositionUpdated is published when a status report moved the machine.
type PositionUpdated struct {
	Machine machine.Position
	Work    machine.Position
}

// StatusUpdated is published for every applied status report.
type StatusUpdated struct {
	Status *machine.MachineStatus
}

// StreamingStarted is published when a job begins.
type StreamingStarted struct {
	JobID string
	Total int
}

// StreamingProgress is published for every program line the controller answered.
type StreamingProgress struct {
	JobID string
	Sent  int
	Total int
}

// StreamingPaused is published when a job is paused.
type StreamingPaused struct {
	JobID string
}

// StreamingResumed is published when a paused job continues.
type StreamingResumed struct {
	JobID string
}

// StreamingComplete is published when every line of a job was answered,
// or the in-flight lines of a stopped job drained.
type StreamingComplete struct {
	JobID    string
	Sent     int
	Errors   int
	Stopped  bool
	Duration time.Duration
}

// StreamingCancelled is published when a job was cancelled or aborted by an alarm.
type StreamingCancelled struct {
	JobID  string
	Sent   int
	Reason error
}

// StreamingError is published when the controller rejected a program line.
type StreamingError struct {
	JobID   string
	Line    int
	Code    int
	Message string
}

// Err returns the line error.
func (e StreamingError) Err() error {
	return &stream.LineError{Line: e.Line, Code: e.Code, Message: e.Message}
}

// StreamStalled is published when commands are outstanding and nothing arrived for a while.
type StreamStalled struct {
	Outstanding int
	Silence     time.Duration
}

// AlarmRaised is published when the controller entered Alarm.
type AlarmRaised struct {
	Alarm machine.AlarmRecord
}

// AlarmCleared is published after an unlock or reset released the alarm.
type AlarmCleared struct {
	Alarm machine.AlarmRecord
}

// SettingsLoaded is published after a settings read completed.
type SettingsLoaded struct {
	Settings map[string]string
}

// FeedbackMessage is published for informational controller output.
type FeedbackMessage struct {
	Tag  string
	Text string
}

// Reconnecting is published before each reconnection attempt.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectFailed is published when every reconnection attempt failed.
type ReconnectFailed struct {
	Attempts int
	Err      error
}

func (Connected) Kind() Kind           { return KindConnected }
func (Disconnected) Kind() Kind        { return KindDisconnected }
func (MachineStateChanged) Kind() Kind { return KindMachineStateChanged }
func (PositionUpdated) Kind() Kind     { return KindPositionUpdated }
func (StatusUpdated) Kind() Kind       { return KindStatusUpdated }
func (StreamingStarted) Kind() Kind    { return KindStreamingStarted }
func (StreamingProgress) Kind() Kind   { return KindStreamingProgress }
func (StreamingPaused) Kind() Kind     { return KindStreamingPaused }
func (StreamingResumed) Kind() Kind    { return KindStreamingResumed }
func (StreamingComplete) Kind() Kind   { return KindStreamingComplete }
func (StreamingCancelled) Kind() Kind  { return KindStreamingCancelled }
func (StreamingError) Kind() Kind      { return KindStreamingError }
func (StreamStalled) Kind() Kind       { return KindStreamStalled }
func (AlarmRaised) Kind() Kind         { return KindAlarmRaised }
func (AlarmCleared) Kind() Kind        { return KindAlarmCleared }
func (SettingsLoaded) Kind() Kind      { return KindSettingsLoaded }
func (FeedbackMessage) Kind() Kind     { return KindFeedbackMessage }
func (Reconnecting) Kind() Kind        { return KindReconnecting }
func (ReconnectFailed) Kind() Kind     { return KindReconnectFailed }
