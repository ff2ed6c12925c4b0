package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/controller"
	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/stream"
	"github.com/arloliu/go-cnc/transport"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if level, ok := logger.ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		logger.SetLevel(level)
	} else {
		logger.SetLogger(logger.Discard())
	}
	os.Exit(m.Run())
}

const sample = `
[connection]
type = "TCP"
address = "192.168.1.50:23"
dial_timeout = "2s"

[controller]
family = "fluidnc"
buffer_capacity = 255
error_policy = "stop"
poll_interval = "250ms"
stall_timeout = "30s"
reconnect_attempts = 4
reconnect_delay = "500ms"

[logging]
level = "debug"

[metrics]
listen = ":9100"
machine = "router"
`

func TestDecode(t *testing.T) {
	t.Run("sample", func(t *testing.T) {
		require := require.New(t)
		cfg, err := Decode(strings.NewReader(sample))
		require.NoError(err)

		require.Equal("tcp", cfg.Connection.Type)
		require.Equal("192.168.1.50:23", cfg.Connection.Address)
		require.Equal(2*time.Second, cfg.Connection.DialTimeout.Std())
		require.Equal(transport.DefaultReadTimeout, cfg.Connection.ReadTimeout.Std())
		require.Equal(255, cfg.Controller.BufferCapacity)
		require.Equal(250*time.Millisecond, cfg.Controller.PollInterval.Std())
		require.True(cfg.Controller.AutoDetect)
		require.Equal(logger.DebugLevel, cfg.LogLevel())
		require.Equal(":9100", cfg.Metrics.Listen)
		require.False(cfg.Journal.Enabled)
	})

	t.Run("rejects", func(t *testing.T) {
		cases := map[string]string{
			"unknown key":     "[controller]\nbuffer = 3\n",
			"bad duration":    "[controller]\npoll_interval = \"fast\"\n",
			"bad family":      "[controller]\nfamily = \"marlin\"\n",
			"bad policy":      "[controller]\nerror_policy = \"retry\"\n",
			"bad type":        "[connection]\ntype = \"usb\"\n",
			"bad level":       "[logging]\nlevel = \"loud\"\n",
			"negative stall":  "[controller]\nstall_timeout = \"-1s\"\n",
			"journal no path": "[journal]\nenabled = true\npath = \"\"\n",
		}
		for name, doc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := Decode(strings.NewReader(doc))
				require.Error(t, err)
			})
		}
	})
}

func TestControllerOptions(t *testing.T) {
	require := require.New(t)
	cfg, err := Decode(strings.NewReader(sample))
	require.NoError(err)

	opts, err := cfg.ControllerOptions()
	require.NoError(err)
	c, err := controller.New(opts...)
	require.NoError(err)
	defer c.Close()

	ccfg := c.Config()
	require.Equal(firmware.FluidNC, ccfg.Family())
	require.Equal(255, ccfg.Capacity())
	require.Equal(stream.StopOnError, ccfg.ErrorPolicy())
	require.Equal(250*time.Millisecond, ccfg.PollInterval())
	require.Equal(4, ccfg.ReconnectAttempts())

	def := Default()
	opts, err = def.ControllerOptions()
	require.NoError(err)
	c, err = controller.New(opts...)
	require.NoError(err)
	defer c.Close()
	require.Zero(c.Config().Capacity())
	require.Zero(c.Config().ReconnectAttempts())
	require.Equal(controller.DefaultPollInterval, c.Config().PollInterval())
}

func TestTransportConfig(t *testing.T) {
	require := require.New(t)
	cfg, err := Decode(strings.NewReader(sample))
	require.NoError(err)

	tcfg, err := cfg.TransportConfig("", nil)
	require.NoError(err)
	require.Equal(transport.TCP, tcfg.Kind())
	require.Equal("192.168.1.50:23", tcfg.Address())
	require.Equal(2*time.Second, tcfg.DialTimeout())

	tcfg, err = cfg.TransportConfig("10.0.0.2:23", nil)
	require.NoError(err)
	require.Equal("10.0.0.2:23", tcfg.Address())

	def := Default()
	_, err = def.TransportConfig("", nil)
	require.Error(err)

	tcfg, err = def.TransportConfig("/dev/ttyUSB0", nil)
	require.NoError(err)
	require.Equal(transport.Serial, tcfg.Kind())
	require.Equal(transport.DefaultBaudRate, tcfg.BaudRate())

	def.Connection.Type = "websocket"
	tcfg, err = def.TransportConfig("ws://fluidnc.local:81", nil)
	require.NoError(err)
	require.Equal(transport.WebSocket, tcfg.Kind())
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		require := require.New(t)
		path := filepath.Join(t.TempDir(), "absent.toml")

		cfg, resolved, exists, err := Load(path)
		require.NoError(err)
		require.False(exists)
		require.Equal(path, resolved)
		require.Equal("serial", cfg.Connection.Type)
		require.True(filepath.IsAbs(cfg.Journal.Path))
	})

	t.Run("round trip", func(t *testing.T) {
		require := require.New(t)
		path := filepath.Join(t.TempDir(), "conf", "config.toml")

		cfg, err := Decode(strings.NewReader(sample))
		require.NoError(err)
		cfg.Journal.Enabled = true
		require.NoError(cfg.WriteFile(path, false))
		require.Error(cfg.WriteFile(path, false))
		require.NoError(cfg.WriteFile(path, true))

		loaded, _, exists, err := Load(path)
		require.NoError(err)
		require.True(exists)
		require.Equal(cfg, loaded)
	})

	t.Run("home expansion", func(t *testing.T) {
		require := require.New(t)
		home := t.TempDir()
		t.Setenv("HOME", home)

		path, err := DefaultPath()
		require.NoError(err)
		require.Equal(filepath.Join(home, ".config", "cncstream", "config.toml"), path)
	})
}
