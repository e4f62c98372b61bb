package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

var ErrLogLevel = errors.New("unexpected log level")

// ConfigureLogger installs the default slog logger.
//
// Levels are "none", "error", "warn", "info" and "debug". With an empty file
// the logger writes text to stdout, otherwise JSON to the file, which the
// caller must close.
func ConfigureLogger(level, file string) (*os.File, error) {
	opts := slog.HandlerOptions{}
	switch level {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, ErrLogLevel
	}

	if file == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &opts)))
		return nil, nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &opts)))
	return f, nil
}
