package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/arloliu/go-cnc/logger"
)

// Kind is the link type of a Config.
type Kind uint8

const (
	Serial Kind = iota
	TCP
	WebSocket
)

func (k Kind) String() string {
	switch k {
	case Serial:
		return "serial"
	case TCP:
		return "tcp"
	case WebSocket:
		return "websocket"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const (
	DefaultBaudRate     = 115200
	DefaultReadTimeout  = 20 * time.Millisecond
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 2 * time.Second
	DefaultFrameQueue   = 64
)

const (
	MinReadTimeout = 1 * time.Millisecond
	MaxReadTimeout = 500 * time.Millisecond
)

var validBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 250000, 460800, 500000, 921600, 1000000, 2000000}

// Config holds the settings of one transport link.
type Config struct {
	kind    Kind
	address string

	baudRate     int
	readTimeout  time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration

	// lockDir holds the LCK..<port> files; empty disables locking.
	lockDir string

	binaryFrames bool
	frameQueue   int

	logger logger.Logger
}

// NewSerialConfig creates the configuration of a serial port link.
func NewSerialConfig(port string, opts ...Option) (*Config, error) {
	if strings.TrimSpace(port) == "" {
		return nil, errors.New("transport: serial port name must not be empty")
	}
	return newConfig(Serial, port, opts)
}

// NewTCPConfig creates the configuration of a TCP link to host:port.
func NewTCPConfig(addr string, opts ...Option) (*Config, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("transport: invalid tcp address %q: %w", addr, err)
	}
	return newConfig(TCP, addr, opts)
}

// NewWebSocketConfig creates the configuration of a WebSocket link to a ws:// or wss:// URL.
func NewWebSocketConfig(rawURL string, opts ...Option) (*Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid websocket url %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("transport: websocket url %q must use ws or wss", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("transport: websocket url %q has no host", rawURL)
	}
	return newConfig(WebSocket, rawURL, opts)
}

func newConfig(kind Kind, address string, opts []Option) (*Config, error) {
	cfg := &Config{
		kind:         kind,
		address:      address,
		baudRate:     DefaultBaudRate,
		readTimeout:  DefaultReadTimeout,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		lockDir:      os.TempDir(),
		frameQueue:   DefaultFrameQueue,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Kind returns the link type.
func (cfg *Config) Kind() Kind { return cfg.kind }

// Address returns the port name, host:port or URL.
func (cfg *Config) Address() string { return cfg.address }

// BaudRate returns the serial baud rate.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// ReadTimeout returns how long TryRead waits for data.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// DialTimeout returns the connection establishment timeout.
func (cfg *Config) DialTimeout() time.Duration { return cfg.dialTimeout }

// WriteTimeout returns the network write timeout.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// LockDir returns the serial lock file directory, empty when locking is disabled.
func (cfg *Config) LockDir() string { return cfg.lockDir }

// BinaryFrames reports whether WebSocket writes use binary frames.
func (cfg *Config) BinaryFrames() bool { return cfg.binaryFrames }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

func (cfg *Config) String() string {
	switch cfg.kind {
	case Serial:
		return fmt.Sprintf("serial://%s@%d", cfg.address, cfg.baudRate)
	case TCP:
		return "tcp://" + cfg.address
	default:
		return cfg.address
	}
}

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the serial baud rate. Default 115200.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		for _, v := range validBaudRates {
			if v == baud {
				cfg.baudRate = baud
				return nil
			}
		}
		return fmt.Errorf("transport: unsupported baud rate %d", baud)
	})
}

// WithReadTimeout sets how long TryRead waits for data, 1ms to 500ms. Default 20ms.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("transport: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithDialTimeout sets the connection establishment timeout.
func WithDialTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transport: dial timeout must be positive")
		}
		cfg.dialTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the network write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transport: write timeout must be positive")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithLockDir sets the directory of serial lock files. An empty dir disables locking.
func WithLockDir(dir string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.lockDir = dir
		return nil
	})
}

// WithBinaryFrames makes WebSocket writes use binary frames instead of text frames.
func WithBinaryFrames(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.binaryFrames = enabled
		return nil
	})
}

// WithFrameQueue sets how many received WebSocket frames may wait for TryRead.
func WithFrameQueue(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 {
			return errors.New("transport: frame queue size must be >= 1")
		}
		cfg.frameQueue = size

		return nil
	})
}

// WithLogger sets the logger for the transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("transport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
