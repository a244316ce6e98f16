// Package logging builds the slog loggers shared by the server, the CLI and
// the watchers. Output goes to stderr, stdout or a lumberjack-rotated file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Config describes one logger.
type Config struct {
	Level  Level
	Format Format

	// Output is "stdout", "stderr", "file" or "both" (stderr plus file).
	Output string

	// Writer replaces Output entirely. Tests use it to capture records.
	Writer io.Writer

	FilePath   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool

	AddSource bool

	// Component is attached to every record as "component".
	Component string
}

// DefaultConfig logs info and above as text to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   DefaultLogPath(),
		MaxSize:    50,
		MaxAge:     30,
		MaxBackups: 3,
		Compress:   true,
		Component:  "activewatcher",
	}
}

// DefaultLogPath is $XDG_STATE_HOME/activewatcher/activewatcher.log, falling
// back to ~/.local/state.
func DefaultLogPath() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "activewatcher", "activewatcher.log")
}

// Logger is a slog.Logger whose level can change at runtime. Loggers
// derived with WithComponent or WithContext share the level and the
// output of their parent.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	out   *sink
}

// New builds a logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out, err := openSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}
	var h slog.Handler
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	if cfg.Component != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	return &Logger{Logger: slog.New(h), level: level, out: out}, nil
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	level := new(slog.LevelVar)
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(h), level: level, out: &sink{w: io.Discard}}
}

// SetLevel changes the minimum level for l and everything derived from it.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() Level { return l.level.Level() }

// WithComponent tags records with a different component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.with(slog.String("component", name))
}

// WithRequestID tags records with a request ID.
func (l *Logger) WithRequestID(id string) *Logger {
	return l.with(slog.String("request_id", id))
}

// WithContext tags records with the request ID carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return l
	}
	return l.WithRequestID(id)
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...), level: l.level, out: l.out}
}

// Rotate starts a new log file. It is a no-op without file output.
func (l *Logger) Rotate() error { return l.out.rotate() }

// Close releases the log file, if any.
func (l *Logger) Close() error { return l.out.close() }
