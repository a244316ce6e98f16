package logging

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// sink is the destination shared by a logger and its children.
type sink struct {
	w io.Writer

	mu   sync.Mutex
	file *lumberjack.Logger
}

func openSink(cfg *Config) (*sink, error) {
	if cfg.Writer != nil {
		return &sink{w: cfg.Writer}, nil
	}

	output := strings.ToLower(cfg.Output)
	switch output {
	case "stdout":
		return &sink{w: os.Stdout}, nil
	case "file", "both":
	default:
		return &sink{w: os.Stderr}, nil
	}

	if cfg.FilePath == "" {
		return nil, errors.New("file output needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}

	s := &sink{w: file, file: file}
	if output == "both" {
		s.w = io.MultiWriter(os.Stderr, file)
	}
	return s, nil
}

func (s *sink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *sink) rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
