package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-cnc/internal/pool"
	"github.com/arloliu/go-cnc/logger"
	"github.com/gorilla/websocket"
)

// wsTransport turns a message-framed WebSocket into a byte stream.
// Received frame payloads are concatenated in arrival order.
type wsTransport struct {
	cfg    *Config
	conn   *websocket.Conn
	logger logger.Logger

	frames  chan []byte
	pending []byte
	readErr atomic.Pointer[error]
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func openWebSocket(ctx context.Context, cfg *Config) (Transport, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.dialTimeout,
		ReadBufferSize:   pool.ReadBufSize,
		WriteBufferSize:  pool.ReadBufSize,
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, cfg.address, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		kind := classifyNet(err)
		if errors.Is(err, websocket.ErrBadHandshake) {
			kind = ErrPortNotFound
		}
		return nil, connErr("dial", cfg.address, kind, err)
	}

	t := &wsTransport{
		cfg:    cfg,
		conn:   conn,
		logger: cfg.logger.With("component", "transport", "url", cfg.address),
		frames: make(chan []byte, cfg.frameQueue),
		done:   make(chan struct{}),
	}
	go t.readLoop()

	t.logger.Debug("websocket connected", "remoteAddr", conn.RemoteAddr())

	return t, nil
}

func (t *wsTransport) readLoop() {
	defer close(t.frames)

	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			kind := classifyNet(err)
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				kind = ErrClosed
			}
			wrapped := connErr("read", t.cfg.address, kind, err)
			t.readErr.Store(&wrapped)

			return
		}
		if len(msg) == 0 {
			continue
		}

		select {
		case t.frames <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Write(p []byte) (int, error) {
	msgType := websocket.TextMessage
	if t.cfg.binaryFrames {
		msgType = websocket.BinaryMessage
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.writeTimeout)); err != nil {
		return 0, connErr("write", t.cfg.address, classifyNet(err), err)
	}
	if err := t.conn.WriteMessage(msgType, p); err != nil {
		return 0, connErr("write", t.cfg.address, classifyNet(err), err)
	}

	return len(p), nil
}

func (t *wsTransport) TryRead(p []byte) (int, error) {
	if len(t.pending) > 0 {
		return t.consume(p), nil
	}

	timer := pool.GetTimer(t.cfg.readTimeout)
	defer pool.PutTimer(timer)

	select {
	case msg, ok := <-t.frames:
		if !ok {
			return 0, t.failure()
		}
		t.pending = msg
		return t.consume(p), nil
	case <-timer.C:
		return 0, nil
	case <-t.done:
		return 0, connErr("read", t.cfg.address, ErrClosed, nil)
	}
}

func (t *wsTransport) consume(p []byte) int {
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	if len(t.pending) == 0 {
		t.pending = nil
	}

	return n
}

func (t *wsTransport) failure() error {
	if errp := t.readErr.Load(); errp != nil {
		return *errp
	}
	return connErr("read", t.cfg.address, ErrClosed, nil)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		deadline := time.Now().Add(t.cfg.writeTimeout)
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		t.closeErr = t.conn.Close()
		t.logger.Debug("websocket closed")
	})

	return t.closeErr
}

func (t *wsTransport) String() string {
	return t.cfg.String()
}
