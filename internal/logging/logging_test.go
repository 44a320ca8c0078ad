package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(&buf, Options{Format: "json", Level: "warn"})
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	logger.Info("hidden")
	logger.Warn("shown", "conversation_id", "c1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "c1", rec["conversation_id"])
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(&buf, Options{Format: "console", Level: "info"})
	require.NoError(t, err)

	logger.Info("hello console")
	assert.Contains(t, buf.String(), "hello console")
}

func TestNew_FileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "auryn.log")
	logger, closeFn, err := New(&buf, Options{Format: "console", Level: "info", File: path})
	require.NoError(t, err)

	logger.Info("to both", "k", "v")
	require.NoError(t, closeFn())

	assert.Contains(t, buf.String(), "to both")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to both", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}
