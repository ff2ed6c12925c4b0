package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger_JSONOutput(t *testing.T) {
	t.Setenv("ENV", "")
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)
	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("component", "stream").Info("line sent", "seq", 3)

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("line sent", rec["msg"])
	require.Equal("stream", rec["component"])
	require.EqualValues(3, rec["seq"])
	require.Contains(rec, "ts")
}

func TestSlogLogger_SetLevel(t *testing.T) {
	t.Setenv("ENV", "")
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, WarnLevel, false)
	require.Equal(WarnLevel, l.Level())

	child := l.With("k", "v")
	child.Info("dropped")
	require.Zero(buf.Len())

	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, child.Level())
	child.Debug("kept")
	require.NotZero(buf.Len())
}

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", DebugLevel, true},
		{"INFO", InfoLevel, true},
		{"warning", WarnLevel, true},
		{"error", ErrorLevel, true},
		{"", InfoLevel, true},
		{"verbose", InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		require.Equal(tt.want, got, tt.in)
		require.Equal(tt.ok, ok, tt.in)
	}
}

func TestMockLogger(t *testing.T) {
	m := NewPermissiveMockLogger()
	child := m.With("component", "test")
	child.Warn("anything", "k", 1)
	m.AssertCalled(t, "Warn", "anything", []any{"k", 1})
}
