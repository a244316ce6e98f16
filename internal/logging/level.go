package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
func ParseLevel(s string) (Level, error) {
	if lv, ok := levelNames[strings.ToLower(s)]; ok {
		return lv, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// LevelString is the config spelling of level.
func LevelString(level Level) string {
	switch {
	case level <= LevelDebug:
		return "debug"
	case level >= LevelError:
		return "error"
	case level >= LevelWarn:
		return "warn"
	default:
		return "info"
	}
}

// Format selects the slog handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat accepts "text", "json" or the empty string (text).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %q", s)
}
