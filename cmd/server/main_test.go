package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/auryn-chat/internal/logging"
)

func TestFinishLogsBeforeClosingLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, closeLog, err := logging.New(io.Discard, logging.Options{Format: "json", Level: "info", File: path})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	prev := slog.Default()
	slog.SetDefault(logger)
	t.Cleanup(func() { slog.SetDefault(prev) })

	if code := finish(errors.New("listen tcp: address in use"), closeLog); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "Server terminated") || !strings.Contains(string(data), "address in use") {
		t.Errorf("log file is missing the final error line: %q", data)
	}
}

func TestFinishCleanExit(t *testing.T) {
	closed := false
	code := finish(nil, func() error {
		closed = true
		return nil
	})
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !closed {
		t.Error("log sinks were not closed")
	}
}
