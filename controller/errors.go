package controller

import "errors"

var (
	// ErrProtocol marks malformed or unexpected controller output. The response is dropped.
	ErrProtocol = errors.New("controller: protocol error")

	// ErrAlreadyConnected is returned by Connect while a session is active.
	ErrAlreadyConnected = errors.New("controller: already connected")

	// ErrHandshakeTimeout is returned when the firmware never identified itself.
	ErrHandshakeTimeout = errors.New("controller: no startup banner from firmware")

	// ErrRealtimeQueueFull is returned when real-time commands arrive faster than they are written.
	ErrRealtimeQueueFull = errors.New("controller: real-time queue full")

	// ErrSessionClosed is returned to requests pending when the session ended.
	ErrSessionClosed = errors.New("controller: session closed")
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("controller: closed")
