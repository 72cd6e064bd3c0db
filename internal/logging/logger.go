package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the daemon's JSON logger. Every record carries the
// driver id for multi-vehicle aggregation.
func NewLogger(level, driverID string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: levelFromString(level),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	log := slog.New(handler)
	if driverID != "" {
		log = log.With("driver_id", driverID)
	}
	return log
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
