// Package logging configures the process-wide slog logger.
//
// Output always goes to stderr: stdout is reserved for the MCP protocol.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds a logger for the given level ("debug", "info", "warn",
// "error") and format ("text" or "json") and installs it as the default.
func Setup(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
