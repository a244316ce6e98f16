package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"activewatcher/internal/client"
	"activewatcher/internal/config"
	"activewatcher/internal/logging"
	"activewatcher/internal/timefmt"
)

// loadConfig reads and validates the configuration and applies the
// --server-url flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if serverURL != "" {
		cfg.Watch.ServerURL = serverURL
		cfg.Normalize()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Watch.ServerURL, time.Duration(cfg.Watch.TimeoutSec)*time.Second), nil
}

// newLogger builds a logger from the logging section of the config.
func newLogger(lc config.LoggingConfig, component string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = lc.Output
	if lc.FilePath != "" {
		cfg.FilePath = lc.FilePath
	}
	cfg.MaxSize = lc.MaxSizeMB
	cfg.MaxBackups = lc.MaxBackups
	cfg.MaxAge = lc.MaxAgeDays
	cfg.Compress = lc.Compress
	cfg.Component = component
	return logging.New(cfg)
}

// parseWindow parses optional --from/--to values.
func parseWindow(from, to string) (client.Window, error) {
	var w client.Window
	var err error
	if from != "" {
		if w.From, err = timefmt.Parse(from); err != nil {
			return w, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if w.To, err = timefmt.Parse(to); err != nil {
			return w, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return w, nil
}

// printResult writes v as indented JSON or as YAML.
func printResult(w io.Writer, format string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	switch format {
	case "", "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = w.Write(buf.Bytes())
		return err
	case "yaml", "yml":
		// Round-trip through JSON so custom marshalers shape the output.
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}
