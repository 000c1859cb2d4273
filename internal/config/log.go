package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
}

// OpenLog builds the logger. With toStderr the log goes to stderr (headless
// modes); otherwise to LogFile, or to the XDG state dir when unset, since
// the terminal belongs to the TUI. The caller must close the returned
// closer.
func (c Config) OpenLog(toStderr bool) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if toStderr && c.LogFile == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nopCloser{}, nil
	}

	path := c.LogFile
	if path == "" {
		path, err = xdg.StateFile("ruledeck/ruledeck.log")
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
