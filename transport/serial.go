package transport

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/arloliu/go-cnc/logger"
	"github.com/gofrs/flock"
	"go.bug.st/serial"
)

type serialTransport struct {
	cfg    *Config
	port   serial.Port
	lock   *flock.Flock
	logger logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// LockPath returns the lock file guarding port inside dir.
func LockPath(dir, port string) string {
	return filepath.Join(dir, "LCK.."+filepath.Base(port))
}

func openSerial(ctx context.Context, cfg *Config) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, connErr("open", cfg.address, nil, err)
	}

	l := cfg.logger.With("component", "transport", "port", cfg.address)

	var lock *flock.Flock
	if cfg.lockDir != "" {
		lock = flock.New(LockPath(cfg.lockDir, cfg.address))
		ok, err := lock.TryLock()
		if err != nil {
			return nil, connErr("lock", cfg.address, nil, err)
		}
		if !ok {
			return nil, connErr("lock", cfg.address, ErrPortBusy, nil)
		}
	}

	mode := &serial.Mode{
		BaudRate: cfg.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.address, mode)
	if err != nil {
		releaseLock(lock)
		return nil, connErr("open", cfg.address, classifySerial(err), err)
	}
	if err := port.SetReadTimeout(cfg.readTimeout); err != nil {
		_ = port.Close()
		releaseLock(lock)
		return nil, connErr("open", cfg.address, nil, err)
	}

	l.Debug("serial port opened", "baud", cfg.baudRate, "readTimeout", cfg.readTimeout)

	return &serialTransport{cfg: cfg, port: port, lock: lock, logger: l}, nil
}

func (t *serialTransport) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := t.port.Write(p[total:])
		total += n
		if err != nil {
			return total, connErr("write", t.cfg.address, classifySerial(err), err)
		}
	}

	return total, nil
}

func (t *serialTransport) TryRead(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if err != nil {
		return n, connErr("read", t.cfg.address, classifySerial(err), err)
	}

	return n, nil
}

func (t *serialTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.port.Close()
		releaseLock(t.lock)
		t.logger.Debug("serial port closed")
	})

	return t.closeErr
}

func (t *serialTransport) String() string {
	return t.cfg.String()
}

func releaseLock(lock *flock.Flock) {
	if lock != nil {
		_ = lock.Unlock()
	}
}

func classifySerial(err error) error {
	var perr *serial.PortError
	if !errors.As(err, &perr) {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return ErrPortNotFound
		case errors.Is(err, fs.ErrPermission):
			return ErrPermissionDenied
		default:
			return nil
		}
	}
	switch perr.Code() {
	case serial.PortNotFound, serial.InvalidSerialPort:
		return ErrPortNotFound
	case serial.PortBusy:
		return ErrPortBusy
	case serial.PermissionDenied:
		return ErrPermissionDenied
	case serial.PortClosed:
		return ErrClosed
	default:
		return nil
	}
}
