package config

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/stream"
)

// Validate ensures the configuration is usable. The connection address may be empty
// because the command line can supply it.
func (c *Config) Validate() error {
	if err := c.validateConnection(); err != nil {
		return err
	}
	if err := c.validateController(); err != nil {
		return err
	}
	if _, ok := logger.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path must be set when the journal is enabled")
	}

	return nil
}

func (c *Config) validateConnection() error {
	switch c.Connection.Type {
	case "serial", "tcp", "websocket":
	default:
		return fmt.Errorf("connection.type %q must be serial, tcp or websocket", c.Connection.Type)
	}
	if c.Connection.BaudRate <= 0 {
		return errors.New("connection.baud_rate must be positive")
	}
	if c.Connection.ReadTimeout <= 0 || c.Connection.DialTimeout <= 0 || c.Connection.WriteTimeout <= 0 {
		return errors.New("connection timeouts must be positive")
	}

	return nil
}

func (c *Config) validateController() error {
	if _, err := firmware.ParseFamily(c.Controller.Family); err != nil {
		return fmt.Errorf("controller.family: %w", err)
	}
	if _, err := stream.ParseErrorPolicy(c.Controller.ErrorPolicy); err != nil {
		return fmt.Errorf("controller.error_policy: %w", err)
	}
	if c.Controller.BufferCapacity < 0 {
		return errors.New("controller.buffer_capacity must not be negative")
	}
	if c.Controller.ReconnectAttempts < 0 {
		return errors.New("controller.reconnect_attempts must not be negative")
	}
	if c.Controller.StallTimeout < 0 {
		return errors.New("controller.stall_timeout must not be negative")
	}

	return nil
}
