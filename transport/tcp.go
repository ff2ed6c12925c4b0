package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/arloliu/go-cnc/logger"
)

type tcpTransport struct {
	cfg    *Config
	conn   net.Conn
	logger logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func openTCP(ctx context.Context, cfg *Config) (Transport, error) {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.address)
	if err != nil {
		return nil, connErr("dial", cfg.address, classifyNet(err), err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	l := cfg.logger.With("component", "transport", "addr", cfg.address)
	l.Debug("tcp connected", "localAddr", conn.LocalAddr(), "remoteAddr", conn.RemoteAddr())

	return &tcpTransport{cfg: cfg, conn: conn, logger: l}, nil
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.writeTimeout)); err != nil {
		return 0, connErr("write", t.cfg.address, classifyNet(err), err)
	}
	n, err := t.conn.Write(p)
	if err != nil {
		return n, connErr("write", t.cfg.address, classifyNet(err), err)
	}

	return n, nil
}

func (t *tcpTransport) TryRead(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.cfg.readTimeout)); err != nil {
		return 0, connErr("read", t.cfg.address, classifyNet(err), err)
	}
	n, err := t.conn.Read(p)
	if err == nil {
		return n, nil
	}
	if isTimeout(err) {
		return n, nil
	}

	return n, connErr("read", t.cfg.address, classifyNet(err), err)
}

func (t *tcpTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		t.logger.Debug("tcp closed")
	})

	return t.closeErr
}

func (t *tcpTransport) String() string {
	return t.cfg.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func classifyNet(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ErrClosed
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH):
		return ErrPortNotFound
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return ErrPermissionDenied
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return ErrTimeout
	default:
		return nil
	}
}
