// Package logging builds the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
)

// Options selects the handler.
type Options struct {
	Format string // "json" or "console"
	Level  string
	File   string // optional JSON sink in addition to w
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w and, if opts.File is set, to that file.
// The returned closer releases the file.
func New(w io.Writer, opts Options) (*slog.Logger, func() error, error) {
	level := ParseLevel(opts.Level)

	var primary slog.Handler
	if opts.Format == "console" {
		primary = console.NewHandler(w, &console.HandlerOptions{
			AddSource: true,
			Level:     level,
		})
	} else {
		primary = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	if opts.File == "" {
		return slog.New(primary), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	router := slogmulti.Router().
		Add(primary).
		Add(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level, AddSource: true}))

	return slog.New(router.Handler()), f.Close, nil
}
