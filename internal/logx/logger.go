// Package logx sets up the process-wide structured logger the way the
// host's own logger package does: a package-level handle configured once
// at startup from the level/format config values.
package logx

import (
	"log/slog"
	"os"
	"strings"
)

// L is the process-wide logger. Init must run before any component logs.
var L = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Init configures L from a level string (debug|info|warn|error) and a
// format string (text|json).
func Init(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	L = slog.New(handler)
}
