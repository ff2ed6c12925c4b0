// Package config loads the TOML configuration of the cncstream tool and maps it onto
// transport and controller options.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a Go duration string, such as "200ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Connection describes the link to the controller.
type Connection struct {
	// Type is serial, tcp or websocket.
	Type         string   `toml:"type"`
	Address      string   `toml:"address"`
	BaudRate     int      `toml:"baud_rate"`
	ReadTimeout  Duration `toml:"read_timeout"`
	DialTimeout  Duration `toml:"dial_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
	LockDir      string   `toml:"lock_dir"`
	BinaryFrames bool     `toml:"binary_frames"`
}

// Controller holds the engine settings.
type Controller struct {
	Family            string   `toml:"family"`
	AutoDetect        bool     `toml:"auto_detect"`
	BufferCapacity    int      `toml:"buffer_capacity"` // 0 uses the firmware budget
	ErrorPolicy       string   `toml:"error_policy"`
	Polling           bool     `toml:"polling"`
	PollInterval      Duration `toml:"poll_interval"`
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
	ResetSettle       Duration `toml:"reset_settle"`
	RequestTimeout    Duration `toml:"request_timeout"`
	StallTimeout      Duration `toml:"stall_timeout"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
}

// Logging holds the log settings.
type Logging struct {
	Level string `toml:"level"`
}

// Journal holds the run journal settings.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Metrics holds the Prometheus endpoint settings.
type Metrics struct {
	// Listen is the address of the metrics endpoint, empty disables it.
	Listen string `toml:"listen"`
	// Machine labels every series.
	Machine string `toml:"machine"`
}

// Config is the complete configuration file.
//
// Sections:
//   - Connection: transport type, address and timeouts
//   - Controller: firmware family, buffer budget, polling and recovery
//   - Logging: log level
//   - Journal: sqlite record of streaming runs
//   - Metrics: Prometheus endpoint
type Config struct {
	Connection Connection `toml:"connection"`
	Controller Controller `toml:"controller"`
	Logging    Logging    `toml:"logging"`
	Journal    Journal    `toml:"journal"`
	Metrics    Metrics    `toml:"metrics"`
}

const defaultPath = "~/.config/cncstream/config.toml"

// DefaultPath returns the absolute path of the default configuration file.
func DefaultPath() (string, error) {
	return ExpandPath(defaultPath)
}

// Load reads and validates the file at path. An empty path selects the default location.
// A missing file yields the defaults; exists reports whether a file was read.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	if path == "" {
		path = defaultPath
	}
	resolved, err = ExpandPath(path)
	if err != nil {
		return nil, "", false, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			def := Default()
			if err := def.normalize(); err != nil {
				return nil, "", false, err
			}
			return &def, resolved, false, nil
		}
		return nil, "", false, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg, err = Decode(file)
	if err != nil {
		return nil, "", false, err
	}

	return cfg, resolved, true, nil
}

// Decode parses a TOML document on top of the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("parse config: %s", strict.String())
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Encode writes cfg as TOML.
func (c *Config) Encode(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// Marshal returns cfg as a TOML document.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteFile writes cfg to path, creating the parent directory. An existing file is
// only replaced when overwrite is set.
func (c *Config) WriteFile(path string, overwrite bool) error {
	resolved, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(resolved); err == nil {
			return fmt.Errorf("config %s already exists", resolved)
		}
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func (c *Config) normalize() error {
	c.Connection.Type = strings.ToLower(strings.TrimSpace(c.Connection.Type))
	c.Connection.Address = strings.TrimSpace(c.Connection.Address)
	c.Controller.Family = strings.ToLower(strings.TrimSpace(c.Controller.Family))
	c.Controller.ErrorPolicy = strings.ToLower(strings.TrimSpace(c.Controller.ErrorPolicy))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	var err error
	if c.Connection.LockDir != "" {
		if c.Connection.LockDir, err = ExpandPath(c.Connection.LockDir); err != nil {
			return err
		}
	}
	if c.Journal.Path != "" {
		if c.Journal.Path, err = ExpandPath(c.Journal.Path); err != nil {
			return err
		}
	}

	return nil
}

// ExpandPath resolves a leading ~ and returns an absolute, cleaned path.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			path = home
		} else if len(path) > 1 && (path[1] == '/' || path[1] == '\\') {
			path = filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", path, err)
	}

	return abs, nil
}
