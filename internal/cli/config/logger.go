package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the CLI logger. Verbose lowers the level to debug.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level := ParseLevel(c.LogLevel)
	if c.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, warn when unknown.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
