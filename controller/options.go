package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/stream"
	"github.com/arloliu/go-cnc/transport"
)

const (
	DefaultPollInterval     = 200 * time.Millisecond
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultResetSettle      = 1 * time.Second
	DefaultRequestTimeout   = 3 * time.Second
	DefaultRequestQueueSize = 32
	DefaultRealtimeQueue    = 64
	DefaultReconnectDelay   = 1 * time.Second
)

const (
	MinPollInterval = 20 * time.Millisecond
	MaxPollInterval = 10 * time.Second

	MaxReconnectDelay = 30 * time.Second
)

// Config holds the settings of a Controller.
type Config struct {
	ctx    context.Context
	family firmware.Family
	detect bool

	// capacity overrides the firmware budget when positive.
	capacity    int
	errorPolicy stream.ErrorPolicy

	pollInterval     time.Duration
	polling          bool
	handshakeTimeout time.Duration
	resetSettle      time.Duration
	requestTimeout   time.Duration
	stallTimeout     time.Duration

	requestQueueSize int
	realtimeQueue    int

	reconnectAttempts int
	reconnectDelay    time.Duration

	opener transport.Opener
	logger logger.Logger
}

func newConfig(opts []Option) (*Config, error) {
	cfg := &Config{
		ctx:              context.Background(),
		family:           firmware.GRBL,
		detect:           true,
		errorPolicy:      stream.ContinueOnError,
		pollInterval:     DefaultPollInterval,
		polling:          true,
		handshakeTimeout: DefaultHandshakeTimeout,
		resetSettle:      DefaultResetSettle,
		requestTimeout:   DefaultRequestTimeout,
		requestQueueSize: DefaultRequestQueueSize,
		realtimeQueue:    DefaultRealtimeQueue,
		reconnectDelay:   DefaultReconnectDelay,
		opener:           transport.Open,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Family returns the configured firmware family.
func (cfg *Config) Family() firmware.Family { return cfg.family }

// PollInterval returns the status poll interval.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// Capacity returns the configured buffer budget, 0 when the firmware default is used.
func (cfg *Config) Capacity() int { return cfg.capacity }

// ErrorPolicy returns the default error policy of streams.
func (cfg *Config) ErrorPolicy() stream.ErrorPolicy { return cfg.errorPolicy }

// ReconnectAttempts returns the number of reconnection attempts, 0 when disabled.
func (cfg *Config) ReconnectAttempts() int { return cfg.reconnectAttempts }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Controller.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithContext sets the parent context of every session.
func WithContext(ctx context.Context) Option {
	return optFunc(func(cfg *Config) error {
		if ctx == nil {
			return errors.New("controller: context must not be nil")
		}
		cfg.ctx = ctx

		return nil
	})
}

// WithFamily sets the firmware family spoken before a banner identifies the board.
func WithFamily(f firmware.Family) Option {
	return optFunc(func(cfg *Config) error {
		cfg.family = f
		return nil
	})
}

// WithAutoDetect switches the codec when the startup banner names another family.
// Enabled by default.
func WithAutoDetect(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.detect = enabled
		return nil
	})
}

// WithBufferCapacity fixes the character-counting budget instead of using the firmware
// default and the receive buffer size the firmware reports.
func WithBufferCapacity(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 16 || n > 8192 {
			return fmt.Errorf("controller: buffer capacity %d out of range [16, 8192]", n)
		}
		cfg.capacity = n

		return nil
	})
}

// WithErrorPolicy sets the policy used by StartStream when none is given.
func WithErrorPolicy(p stream.ErrorPolicy) Option {
	return optFunc(func(cfg *Config) error {
		cfg.errorPolicy = p
		return nil
	})
}

// WithPollInterval sets the status poll interval, 20ms to 10s. Default 200ms.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("controller: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithPolling enables or disables the status poller. Enabled by default.
func WithPolling(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.polling = enabled
		return nil
	})
}

// WithHandshakeTimeout sets how long Connect waits for the startup banner.
func WithHandshakeTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("controller: handshake timeout must be positive")
		}
		cfg.handshakeTimeout = d

		return nil
	})
}

// WithResetSettle sets how long responses are discarded after a soft reset when the
// firmware does not announce the reset with a banner. Default 1s.
func WithResetSettle(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 || d > 10*time.Second {
			return fmt.Errorf("controller: reset settle %v out of range (0, 10s]", d)
		}
		cfg.resetSettle = d

		return nil
	})
}

// WithRequestTimeout bounds the requests that take no context, such as Pause and Cancel.
func WithRequestTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("controller: request timeout must be positive")
		}
		cfg.requestTimeout = d

		return nil
	})
}

// WithStallTimeout publishes StreamStalled when commands are outstanding and no
// response arrived for d. Zero disables the detector, which is the default.
func WithStallTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("controller: stall timeout must not be negative")
		}
		cfg.stallTimeout = d

		return nil
	})
}

// WithRequestQueueSize sets the size of the request queue of the I/O loop.
func WithRequestQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 {
			return errors.New("controller: request queue size must be >= 1")
		}
		cfg.requestQueueSize = size

		return nil
	})
}

// WithReconnect enables reconnection after a transport failure. delay doubles after
// every failed attempt up to 30s.
func WithReconnect(attempts int, delay time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if attempts < 0 {
			return errors.New("controller: reconnect attempts must not be negative")
		}
		if delay <= 0 || delay > MaxReconnectDelay {
			return fmt.Errorf("controller: reconnect delay %v out of range (0, %v]", delay, MaxReconnectDelay)
		}
		cfg.reconnectAttempts = attempts
		cfg.reconnectDelay = delay

		return nil
	})
}

// WithOpener replaces transport.Open, for example with a simulator.
func WithOpener(opener transport.Opener) Option {
	return optFunc(func(cfg *Config) error {
		if opener == nil {
			return errors.New("controller: opener must not be nil")
		}
		cfg.opener = opener

		return nil
	})
}

// WithLogger sets the logger for the controller.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("controller: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
