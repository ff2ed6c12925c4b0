package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandTooLong is returned when a command alone exceeds the buffer capacity.
	ErrCommandTooLong = errors.New("stream: command exceeds buffer capacity")

	// ErrBufferFull is returned when a command does not fit the remaining buffer space.
	ErrBufferFull = errors.New("stream: buffer full")

	// ErrJobActive is returned when starting a job while another is running.
	ErrJobActive = errors.New("stream: job already active")

	// ErrEmptyProgram is returned when a program holds no command after preparation.
	ErrEmptyProgram = errors.New("stream: program has no commands")

	// ErrCancelled is delivered to commands dropped by a cancel or alarm.
	ErrCancelled = errors.New("stream: command cancelled")

	// ErrReset is delivered to commands dropped because the controller reset on its own.
	ErrReset = errors.New("stream: controller reset")

	// ErrUnexpectedResponse is returned for a response with no outstanding command.
	ErrUnexpectedResponse = errors.New("stream: response without outstanding command")
)

// ValidationError reports a command rejected before transmission.
type ValidationError struct {
	Line     int
	Text     string
	Length   int
	Capacity int
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("stream: line %d is %d bytes, buffer capacity is %d", e.Line, e.Length, e.Capacity)
	}
	return fmt.Sprintf("stream: command is %d bytes, buffer capacity is %d", e.Length, e.Capacity)
}

func (e *ValidationError) Unwrap() error {
	return ErrCommandTooLong
}

// LineError is a controller error reported against one program line.
type LineError struct {
	Line    int
	Text    string
	Code    int
	Message string
}

func (e *LineError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("line %d: error %d: %s", e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}
