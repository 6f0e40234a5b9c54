// Package util holds small process-wide concerns that don't belong to any
// single model: logging init today, used by cmd/query.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures slog based on the "<prefix>_LOG_LEVEL" environment
// variable and returns the configured logger. Supported levels: debug, info,
// warn, error; unset or unrecognized falls back to info.
func InitLogging(prefix string) *slog.Logger {
	level := slog.LevelInfo
	if raw, ok := os.LookupEnv(prefix + "_LOG_LEVEL"); ok {
		switch strings.ToLower(raw) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
