package transport

import (
	"errors"
	"fmt"
)

var (
	ErrPortNotFound     = errors.New("transport: port not found")
	ErrPortBusy         = errors.New("transport: port busy")
	ErrPermissionDenied = errors.New("transport: permission denied")
	ErrTimeout          = errors.New("transport: timeout")
	ErrClosed           = errors.New("transport: closed")
	ErrWatchUnsupported = errors.New("transport: port watch not supported on this platform")
)

// ConnectionError reports a failed transport operation. It ends the session.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func connErr(op, addr string, kind, cause error) error {
	switch {
	case kind == nil:
		return &ConnectionError{Op: op, Addr: addr, Err: cause}
	case cause == nil:
		return &ConnectionError{Op: op, Addr: addr, Err: kind}
	default:
		return &ConnectionError{Op: op, Addr: addr, Err: fmt.Errorf("%w: %w", kind, cause)}
	}
}
