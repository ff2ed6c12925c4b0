package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arloliu/go-cnc/internal/sim"
	"github.com/arloliu/go-cnc/logger"
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

type cliEnv struct {
	home       string
	configPath string
	journal    string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	env := &cliEnv{
		home:       home,
		configPath: filepath.Join(home, "cncstream.toml"),
		journal:    filepath.Join(home, "journal.db"),
	}
	doc := `
[connection]
address = "/dev/ttySIM0"

[controller]
poll_interval = "20ms"
handshake_timeout = "500ms"
reset_settle = "100ms"
request_timeout = "1s"

[logging]
level = "error"

[journal]
enabled = true
path = "` + env.journal + `"
`
	require.NoError(t, os.WriteFile(env.configPath, []byte(doc), 0o644))

	return env
}

func runCLI(t *testing.T, opener transport.Opener, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand(opener)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func TestConfigCommands(t *testing.T) {
	require := require.New(t)
	env := setupCLIEnv(t)
	target := filepath.Join(env.home, "conf", "config.toml")

	out, _, err := runCLI(t, nil, "config", "init", "--path", target)
	require.NoError(err)
	require.Contains(out, "Wrote configuration to "+target)
	require.FileExists(target)

	_, _, err = runCLI(t, nil, "config", "init", "--path", target)
	require.Error(err)
	_, _, err = runCLI(t, nil, "config", "init", "--path", target, "--overwrite")
	require.NoError(err)

	out, _, err = runCLI(t, nil, "--config", target, "config", "show")
	require.NoError(err)
	require.Contains(out, "# loaded from "+target)
	require.Regexp(`family = ['"]grbl['"]`, out)

	out, _, err = runCLI(t, nil, "--config", filepath.Join(env.home, "absent.toml"), "config", "show")
	require.NoError(err)
	require.Contains(out, "showing defaults")
}

func TestStatusCommand(t *testing.T) {
	require := require.New(t)
	env := setupCLIEnv(t)
	board := sim.New()

	out, _, err := runCLI(t, board.Opener(), "--config", env.configPath, "status")
	require.NoError(err)
	require.Contains(out, "IDLE")
	require.Contains(out, "grbl 1.1h")
	require.Contains(out, "feed 100% rapid 100% spindle 100%")
}

func TestSendCommand(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		require := require.New(t)
		env := setupCLIEnv(t)
		board := sim.New()

		out, _, err := runCLI(t, board.Opener(), "--config", env.configPath, "send", "G0 X1", "G0 Y2")
		require.NoError(err)
		require.Contains(out, "G0 X1: ok")
		require.Contains(out, "G0 Y2: ok")
		require.Contains(board.Lines(), "G0 Y2")
	})

	t.Run("rejected line", func(t *testing.T) {
		require := require.New(t)
		env := setupCLIEnv(t)
		board := sim.New(sim.WithErrorOn("G99", 20))

		out, _, err := runCLI(t, board.Opener(), "--config", env.configPath, "send", "G99", "G0 X1")
		require.Error(err)
		require.Contains(out, "G99: error 20")
		require.NotContains(board.Lines(), "G0 X1")

		board = sim.New(sim.WithErrorOn("G99", 20))
		out, _, err = runCLI(t, board.Opener(), "--config", env.configPath, "send", "-k", "G99", "G0 X1")
		require.Error(err)
		require.Contains(out, "G0 X1: ok")
	})

	t.Run("missing address", func(t *testing.T) {
		require := require.New(t)
		setupCLIEnv(t)

		_, _, err := runCLI(t, sim.New().Opener(), "--config", filepath.Join(t.TempDir(), "none.toml"), "send", "G0 X1")
		require.ErrorContains(err, "--port")
	})
}

func TestSettingsCommand(t *testing.T) {
	require := require.New(t)
	env := setupCLIEnv(t)
	board := sim.New()

	out, _, err := runCLI(t, board.Opener(), "--config", env.configPath, "settings")
	require.NoError(err)
	require.Contains(out, "110")
	require.Contains(out, "5000.000")
	require.Less(strings.Index(out, " 13 "), strings.Index(out, " 110 "))

	out, _, err = runCLI(t, board.Opener(), "--config", env.configPath, "settings", "set", "$110", "4000")
	require.NoError(err)
	require.Contains(out, "$110=4000")
	value, ok := board.Setting("110")
	require.True(ok)
	require.Equal("4000", value)
}

func TestStreamCommand(t *testing.T) {
	t.Run("complete run is journaled", func(t *testing.T) {
		require := require.New(t)
		env := setupCLIEnv(t)
		board := sim.New()

		program := filepath.Join(env.home, "square.nc")
		require.NoError(os.WriteFile(program, []byte("%\n(square)\nG0 X0 Y0\nG1 X10 F500\nG1 Y10\nG1 X0\nG1 Y0 ; close\n%\n"), 0o644))

		out, _, err := runCLI(t, board.Opener(), "--config", env.configPath, "stream", program)
		require.NoError(err)
		require.Contains(out, "square.nc: 5 lines in")
		require.Contains(out, "0 errors")
		require.Contains(out, "5/5 lines (100%)")
		require.Contains(board.Lines(), "G1 Y0")

		out, _, err = runCLI(t, nil, "--config", env.configPath, "history")
		require.NoError(err)
		require.Contains(out, "square.nc")
		require.Contains(out, "complete")
		require.Contains(out, "5/5")
	})

	t.Run("stop on error", func(t *testing.T) {
		require := require.New(t)
		env := setupCLIEnv(t)
		board := sim.New(sim.WithErrorOn("G99", 20))

		cmd := newRootCommand(board.Opener())
		var stdout bytes.Buffer
		cmd.SetOut(&stdout)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader("G0 X1\nG99\nG0 X2\n"))
		cmd.SetArgs([]string{"--config", env.configPath, "stream", "--on-error", "stop", "--no-journal", "-"})
		err := cmd.ExecuteContext(context.Background())
		require.ErrorContains(err, "stopped after a rejected line")
		require.Contains(stdout.String(), "line 2: error 20")

		out, _, err := runCLI(t, nil, "--config", env.configPath, "history")
		require.NoError(err)
		require.Contains(out, "No runs recorded")
	})

	t.Run("missing program", func(t *testing.T) {
		require := require.New(t)
		env := setupCLIEnv(t)

		_, _, err := runCLI(t, sim.New().Opener(), "--config", env.configPath, "stream", filepath.Join(env.home, "absent.nc"))
		require.ErrorContains(err, "open program")
	})
}
