package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlog(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	require.NotNil(t, logger)
	require.NotNil(t, logger.logger)

	require.NotNil(t, NewSlog(nil).logger)
	require.NotNil(t, NewSlogDefault().logger)
}

func TestSlogLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewSlogHandler(buf, "text", slog.LevelDebug)

	logger.Debug("debug message", "lease", "p-0")
	logger.Info("info message", "host", "host-a")
	logger.Warn("warn message", "attempt", 3)
	logger.Error("error message", "error", "timeout")

	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "lease=p-0")
	assert.Contains(t, output, "level=INFO")
	assert.Contains(t, output, "host=host-a")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "attempt=3")
	assert.Contains(t, output, "level=ERROR")
	assert.Contains(t, output, "error=timeout")
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewSlogHandler(buf, "text", slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")

	logger.Warn("warn message")
	logger.Error("error message")

	output = buf.String()
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestSlogLogger_JSONAndWith(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewSlogHandler(buf, "JSON", slog.LevelInfo).With("host", "host-b")

	logger.Info("lease acquired", "lease", "p-7")

	output := buf.String()
	assert.Contains(t, output, `"msg":"lease acquired"`)
	assert.Contains(t, output, `"host":"host-b"`)
	assert.Contains(t, output, `"lease":"p-7"`)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	require.Error(t, err)
}

func TestFormatKeyValues(t *testing.T) {
	require.Equal(t, "", formatKeyValues(nil))
	require.Equal(t, "a=1 b=2", formatKeyValues([]any{"a", 1, "b", 2}))
	require.Equal(t, "a=1 b=<missing>", formatKeyValues([]any{"a", 1, "b"}))
}

func TestNopAndTestLoggers(t *testing.T) {
	nop := NewNop()
	nop.Debug("x")
	nop.Info("x", "k", "v")
	nop.Warn("x")
	nop.Error("x")
	nop.Fatal("x")

	tl := NewTest(t)
	tl.Info("visible in test output", "k", "v")
}
