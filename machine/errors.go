package machine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a request is not valid in the current controller state.
	ErrInvalidTransition = errors.New("machine: invalid state transition")

	// ErrAlarmActive is returned when a motion or program request is made while an alarm is latched.
	ErrAlarmActive = errors.New("machine: alarm active")

	// ErrNotConnected is returned when a request needs a connected controller.
	ErrNotConnected = errors.New("machine: not connected")
)

// TransitionError reports a request rejected by the state machine.
type TransitionError struct {
	From   State
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("machine: %s not allowed in state %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// AlarmError reports a request rejected because of a latched alarm.
type AlarmError struct {
	Action Action
	Alarm  AlarmRecord
}

func (e *AlarmError) Error() string {
	if e.Alarm.Code > 0 {
		return fmt.Sprintf("machine: %s rejected, alarm %d active: %s", e.Action, e.Alarm.Code, e.Alarm.Description)
	}
	return fmt.Sprintf("machine: %s rejected, alarm active", e.Action)
}

func (e *AlarmError) Unwrap() error {
	return ErrAlarmActive
}
