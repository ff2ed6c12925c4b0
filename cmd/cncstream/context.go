package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-cnc/config"
	"github.com/arloliu/go-cnc/controller"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/transport"
	"github.com/spf13/cobra"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	addressFlag  *string

	// opener replaces the transport opener, nil dials the real device.
	opener transport.Opener

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, logLevelFlag, addressFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		addressFlag:  addressFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})

	return c.config, c.configErr
}

// logger writes records to w at the level of the flag, or of the configuration.
func (c *commandContext) logger(w io.Writer) logger.Logger {
	level := logger.InfoLevel
	if cfg, err := c.ensureConfig(); err == nil {
		level = cfg.LogLevel()
	}
	if c.logLevelFlag != nil && *c.logLevelFlag != "" {
		if parsed, ok := logger.ParseLevel(*c.logLevelFlag); ok {
			level = parsed
		}
	}

	return logger.NewSlogWriter(w, level, false)
}

func (c *commandContext) address() string {
	if c.addressFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.addressFlag)
}

// connect opens a controller session. The caller closes the controller.
func (c *commandContext) connect(cmd *cobra.Command) (*controller.Controller, error) {
	ctl, tcfg, err := c.newController(cmd)
	if err != nil {
		return nil, err
	}
	if err := c.dial(cmd, ctl, tcfg); err != nil {
		_ = ctl.Close()
		return nil, err
	}

	return ctl, nil
}

// newController builds an unconnected controller and its transport configuration,
// so listeners can be registered before the handshake.
func (c *commandContext) newController(cmd *cobra.Command) (*controller.Controller, *transport.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	l := c.logger(cmd.ErrOrStderr())

	tcfg, err := cfg.TransportConfig(c.address(), l)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (use --port or set connection.address)", err)
	}
	opts, err := cfg.ControllerOptions()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, controller.WithLogger(l))
	if c.opener != nil {
		opts = append(opts, controller.WithOpener(c.opener))
	}

	ctl, err := controller.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	return ctl, tcfg, nil
}

func (c *commandContext) dial(cmd *cobra.Command, ctl *controller.Controller, tcfg *transport.Config) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Controller.HandshakeTimeout.Std()+cfg.Connection.DialTimeout.Std())
	defer cancel()
	if err := ctl.Connect(ctx, tcfg); err != nil {
		return fmt.Errorf("connect %s: %w", tcfg.Address(), err)
	}

	return nil
}

func (c *commandContext) requestTimeout() time.Duration {
	cfg, err := c.ensureConfig()
	if err != nil || cfg.Controller.RequestTimeout <= 0 {
		return controller.DefaultRequestTimeout
	}
	return cfg.Controller.RequestTimeout.Std()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
