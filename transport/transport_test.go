package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/logger"
	"github.com/gofrs/flock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func TestMain(m *testing.M) {
	if level, ok := logger.ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		logger.SetLevel(level)
	} else {
		logger.SetLogger(logger.Discard())
	}
	os.Exit(m.Run())
}

func TestConfig(t *testing.T) {
	t.Run("serial defaults", func(t *testing.T) {
		require := require.New(t)
		cfg, err := NewSerialConfig("/dev/ttyUSB0")
		require.NoError(err)
		require.Equal(Serial, cfg.Kind())
		require.Equal(DefaultBaudRate, cfg.BaudRate())
		require.Equal(DefaultReadTimeout, cfg.ReadTimeout())
		require.Equal("serial:///dev/ttyUSB0@115200", cfg.String())
	})

	t.Run("options", func(t *testing.T) {
		require := require.New(t)
		cfg, err := NewSerialConfig("COM3", WithBaudRate(250000), WithReadTimeout(5*time.Millisecond), WithLockDir(""))
		require.NoError(err)
		require.Equal(250000, cfg.BaudRate())
		require.Equal(5*time.Millisecond, cfg.ReadTimeout())
		require.Empty(cfg.LockDir())
	})

	t.Run("invalid", func(t *testing.T) {
		require := require.New(t)
		_, err := NewSerialConfig("")
		require.Error(err)
		_, err = NewSerialConfig("/dev/ttyUSB0", WithBaudRate(12345))
		require.Error(err)
		_, err = NewSerialConfig("/dev/ttyUSB0", WithReadTimeout(time.Second))
		require.Error(err)
		_, err = NewSerialConfig("/dev/ttyUSB0", WithReadTimeout(0))
		require.Error(err)
		_, err = NewTCPConfig("no-port")
		require.Error(err)
		_, err = NewWebSocketConfig("http://example.com/ws")
		require.Error(err)
		_, err = NewWebSocketConfig("ws:///path")
		require.Error(err)
		_, err = NewTCPConfig("localhost:23", WithLogger(nil))
		require.Error(err)
		_, err = NewWebSocketConfig("ws://fluidnc.local:81", WithFrameQueue(0))
		require.Error(err)
	})
}

func TestConnectionError(t *testing.T) {
	require := require.New(t)

	cause := errors.New("device vanished")
	err := connErr("read", "/dev/ttyACM0", ErrClosed, cause)
	require.ErrorIs(err, ErrClosed)
	require.ErrorIs(err, cause)

	var ce *ConnectionError
	require.True(errors.As(err, &ce))
	require.Equal("read", ce.Op)
	require.Equal("/dev/ttyACM0", ce.Addr)
	require.Contains(err.Error(), "device vanished")
}

func TestSerial_Open(t *testing.T) {
	t.Run("port not found", func(t *testing.T) {
		require := require.New(t)
		port := filepath.Join(t.TempDir(), "ttyUSB9")
		cfg, err := NewSerialConfig(port, WithLockDir(t.TempDir()))
		require.NoError(err)

		_, err = Open(context.Background(), cfg)
		require.ErrorIs(err, ErrPortNotFound)
		var ce *ConnectionError
		require.True(errors.As(err, &ce))
		require.Equal("open", ce.Op)
	})

	t.Run("lock held by another process", func(t *testing.T) {
		require := require.New(t)
		dir := t.TempDir()
		held := flock.New(LockPath(dir, "/dev/ttyUSB0"))
		ok, err := held.TryLock()
		require.NoError(err)
		require.True(ok)
		defer func() { _ = held.Unlock() }()

		cfg, err := NewSerialConfig("/dev/ttyUSB0", WithLockDir(dir))
		require.NoError(err)
		_, err = Open(context.Background(), cfg)
		require.ErrorIs(err, ErrPortBusy)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cfg, err := NewSerialConfig("/dev/ttyUSB0", WithLockDir(""))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = Open(ctx, cfg)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("lock path", func(t *testing.T) {
		require.Equal(t, filepath.Join("/var/lock", "LCK..ttyUSB0"), LockPath("/var/lock", "/dev/ttyUSB0"))
	})
}

func TestTCP(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	cfg, err := NewTCPConfig(ln.Addr().String(), WithReadTimeout(10*time.Millisecond))
	require.NoError(err)
	tr, err := Open(context.Background(), cfg)
	require.NoError(err)
	defer tr.Close()

	server := <-accepted
	buf := make([]byte, 64)

	n, err := tr.TryRead(buf)
	require.NoError(err, "read timeout is not an error")
	require.Zero(n)

	_, err = tr.Write([]byte("G0 X1\n"))
	require.NoError(err)
	got := make([]byte, 6)
	_, err = server.Read(got)
	require.NoError(err)
	require.Equal("G0 X1\n", string(got))

	_, err = server.Write([]byte("ok\r\n"))
	require.NoError(err)
	require.Eventually(func() bool {
		n, err = tr.TryRead(buf)
		return err == nil && n > 0
	}, time.Second, time.Millisecond)
	require.Equal("ok\r\n", string(buf[:n]))

	require.NoError(server.Close())
	require.Eventually(func() bool {
		_, err = tr.TryRead(buf)
		return err != nil
	}, time.Second, time.Millisecond)
	require.ErrorIs(err, ErrClosed)

	require.NoError(tr.Close())
	require.NoError(tr.Close())
}

func TestTCP_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg, err := NewTCPConfig(addr, WithDialTimeout(time.Second))
	require.NoError(t, err)
	_, err = Open(context.Background(), cfg)
	require.Error(t, err)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "dial", ce.Op)
}

func TestWebSocket(t *testing.T) {
	require := require.New(t)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	received := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte("Grbl 3.7 [FluidNC v3.7.8 (wifi) '$' for help]\r\n<Idle|MPos:0.000,0.000,0.000|FS:0,0>"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("\r\n"))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
			_ = conn.WriteMessage(websocket.TextMessage, []byte("ok\r\n"))
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	cfg, err := NewWebSocketConfig(url, WithReadTimeout(10*time.Millisecond))
	require.NoError(err)
	tr, err := Open(context.Background(), cfg)
	require.NoError(err)
	defer tr.Close()

	var stream strings.Builder
	buf := make([]byte, 16)
	require.Eventually(func() bool {
		n, err := tr.TryRead(buf)
		if err != nil {
			return false
		}
		stream.Write(buf[:n])
		return strings.HasSuffix(stream.String(), ">\r\n")
	}, time.Second, time.Millisecond)
	require.True(strings.HasPrefix(stream.String(), "Grbl 3.7 [FluidNC"))

	_, err = tr.Write([]byte("$I\n"))
	require.NoError(err)
	require.Equal("$I\n", <-received)

	stream.Reset()
	require.Eventually(func() bool {
		n, err := tr.TryRead(buf)
		if err != nil {
			return false
		}
		stream.Write(buf[:n])
		return stream.String() == "ok\r\n"
	}, time.Second, time.Millisecond)

	require.NoError(tr.Close())
	_, err = tr.TryRead(buf)
	require.ErrorIs(err, ErrClosed)
}

func TestFilterPorts(t *testing.T) {
	require := require.New(t)

	ports := filterPorts([]*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
		{Name: "/dev/tty0"},
		{Name: "/dev/cu.usbmodem14101", IsUSB: true, VID: "2341", PID: "0043", SerialNumber: "A1"},
		{Name: "/dev/cu.Bluetooth-Incoming-Port"},
		nil,
	})
	require.Len(ports, 3)
	require.Equal("/dev/cu.usbmodem14101", ports[0].Name)
	require.Equal("A1", ports[0].SerialNumber)
	require.Equal("/dev/ttyUSB0", ports[1].Name)
	require.Equal("/dev/ttyS0", ports[2].Name)
	require.False(ports[2].IsUSB)

	require.True(IsCandidatePort("COM7"))
	require.False(IsCandidatePort("/dev/null"))
}
