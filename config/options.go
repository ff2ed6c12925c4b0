package config

import (
	"errors"

	"github.com/arloliu/go-cnc/controller"
	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/stream"
	"github.com/arloliu/go-cnc/transport"
)

// TransportConfig builds the transport configuration. A non-empty address replaces the
// configured one.
func (c *Config) TransportConfig(address string, l logger.Logger) (*transport.Config, error) {
	conn := c.Connection
	if address != "" {
		conn.Address = address
	}
	if conn.Address == "" {
		return nil, errors.New("connection.address is not set")
	}

	opts := []transport.Option{
		transport.WithBaudRate(conn.BaudRate),
		transport.WithReadTimeout(conn.ReadTimeout.Std()),
		transport.WithDialTimeout(conn.DialTimeout.Std()),
		transport.WithWriteTimeout(conn.WriteTimeout.Std()),
		transport.WithBinaryFrames(conn.BinaryFrames),
	}
	if conn.LockDir != "" {
		opts = append(opts, transport.WithLockDir(conn.LockDir))
	}
	if l != nil {
		opts = append(opts, transport.WithLogger(l))
	}

	switch conn.Type {
	case "tcp":
		return transport.NewTCPConfig(conn.Address, opts...)
	case "websocket":
		return transport.NewWebSocketConfig(conn.Address, opts...)
	default:
		return transport.NewSerialConfig(conn.Address, opts...)
	}
}

// ControllerOptions maps the controller section onto controller options.
func (c *Config) ControllerOptions() ([]controller.Option, error) {
	ctl := c.Controller

	family, err := firmware.ParseFamily(ctl.Family)
	if err != nil {
		return nil, err
	}
	policy, err := stream.ParseErrorPolicy(ctl.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	opts := []controller.Option{
		controller.WithFamily(family),
		controller.WithAutoDetect(ctl.AutoDetect),
		controller.WithErrorPolicy(policy),
		controller.WithPolling(ctl.Polling),
		controller.WithPollInterval(ctl.PollInterval.Std()),
		controller.WithHandshakeTimeout(ctl.HandshakeTimeout.Std()),
		controller.WithResetSettle(ctl.ResetSettle.Std()),
		controller.WithRequestTimeout(ctl.RequestTimeout.Std()),
		controller.WithStallTimeout(ctl.StallTimeout.Std()),
	}
	if ctl.BufferCapacity > 0 {
		opts = append(opts, controller.WithBufferCapacity(ctl.BufferCapacity))
	}
	if ctl.ReconnectAttempts > 0 {
		opts = append(opts, controller.WithReconnect(ctl.ReconnectAttempts, ctl.ReconnectDelay.Std()))
	}

	return opts, nil
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() logger.Level {
	level, ok := logger.ParseLevel(c.Logging.Level)
	if !ok {
		return logger.InfoLevel
	}

	return level
}
