package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce collapses bursts of writes from editors into one reload.
const reloadDebounce = 100 * time.Millisecond

// A removed file reloads as the defaults.
const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Loader owns the live configuration of a long-running process. It reads
// the file once with Load and, after Watch, re-reads it whenever the file is
// written, replaced or removed.
type Loader struct {
	path string

	mu        sync.RWMutex
	config    *Config
	unknown   []string
	listeners []func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	errs    chan error
	done    chan struct{}
}

// NewLoader creates a loader for path. An empty path uses ConfigPath().
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:   path,
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan error, 1),
	}
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, normalizes and validates the configuration file.
func (l *Loader) Load() (*Config, error) {
	cfg, unknown, err := l.read()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.unknown = unknown
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read() (*Config, []string, error) {
	cfg, unknown, err := decodeFile(l.path)
	if err != nil {
		return nil, nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return cfg, unknown, nil
}

// Config returns the current configuration, or nil before a successful Load.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// UnknownKeys lists TOML keys in the file that match no setting, which
// usually means a typo.
func (l *Loader) UnknownKeys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.unknown...)
}

// OnChange registers fn to run after each reload that changes the
// configuration.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Errors delivers reload failures. Errors are dropped if nobody reads them.
func (l *Loader) Errors() <-chan error {
	return l.errs
}

// Reload re-reads the file. An invalid file leaves the current
// configuration in place. Listeners only run when the result differs from
// the current configuration.
func (l *Loader) Reload() error {
	next, unknown, err := l.read()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	l.mu.Lock()
	changed := l.config == nil || !reflect.DeepEqual(l.config, next)
	l.config = next
	l.unknown = unknown
	listeners := append([]func(*Config){}, l.listeners...)
	l.mu.Unlock()

	if !changed {
		return nil
	}
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// Watch starts reloading on file changes until Close. The parent directory
// is watched so that editors which replace the file atomically are seen.
func (l *Loader) Watch() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	l.watcher = w
	l.done = make(chan struct{})
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer close(l.done)

	name := filepath.Base(l.path)
	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || ev.Op&watchedOps == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			if err := l.Reload(); err != nil {
				l.report(err)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Close stops watching. It is safe to call without Watch.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	return err
}

type decoder func(data []byte, cfg *Config) (unknown []string, err error)

var decoders = map[string]decoder{
	"toml": decodeTOML,
	"json": decodeJSON,
	"yaml": decodeYAML,
}

// formatOf maps a file extension to a decoder name. Unknown extensions
// return "".
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// decodeFile overlays the file onto DefaultConfig. A missing file yields
// the defaults.
func decodeFile(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	if format := formatOf(path); format != "" {
		cfg := DefaultConfig()
		unknown, err := decoders[format](data, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", strings.ToUpper(format), err)
		}
		return cfg, unknown, nil
	}

	// No recognized extension: take the first format that parses.
	for _, format := range []string{"toml", "json", "yaml"} {
		cfg := DefaultConfig()
		if unknown, err := decoders[format](data, cfg); err == nil {
			return cfg, unknown, nil
		}
	}
	return nil, nil, fmt.Errorf("parse config %s: not valid TOML, JSON or YAML", path)
}

func decodeTOML(data []byte, cfg *Config) ([]string, error) {
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}
	return unknown, nil
}

func decodeJSON(data []byte, cfg *Config) ([]string, error) {
	return nil, json.Unmarshal(data, cfg)
}

func decodeYAML(data []byte, cfg *Config) ([]string, error) {
	return nil, yaml.Unmarshal(data, cfg)
}
