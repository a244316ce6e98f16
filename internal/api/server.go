package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"activewatcher/internal/config"
	"activewatcher/internal/health"
	"activewatcher/internal/ingest"
	"activewatcher/internal/logging"
	"activewatcher/internal/metrics"
	"activewatcher/internal/reports"
	"activewatcher/internal/store"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// minFreeDiskBytes is the free space below which health reports degraded.
const minFreeDiskBytes = 64 << 20

// Server owns the store and the HTTP server for one activewatcher instance.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *store.Store
	loader *reports.Loader
	health *health.Checker
	api    *API
	http   *http.Server
}

// NewServer opens the store exclusively and wires every component.
func NewServer(cfg *config.Config, logger *logging.Logger, version string) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	st, err := store.OpenWithOptions(cfg.Storage.Path, store.Options{
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeoutMs) * time.Millisecond,
		Exclusive:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		&metrics.StoreCollector{Source: st},
	)
	m, err := metrics.New(reg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	checker := health.NewChecker(nil)
	checker.RegisterFunc("database", true, health.DatabaseCheck(st.Ping))
	checker.RegisterFunc("disk", false, health.DiskSpaceCheck(filepath.Dir(cfg.Storage.Path), minFreeDiskBytes))

	loader := reports.NewLoader(st, nil, cfg.Server.StaleAfterSeconds)
	a := New(Options{
		Ingest:             ingest.New(st),
		Reports:            reports.NewService(st, loader),
		Health:             checker,
		Metrics:            m,
		Gatherer:           reg,
		Logger:             logger,
		Version:            version,
		CORSOrigins:        cfg.Server.CORSOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	})

	s := &Server{
		cfg:    cfg,
		logger: logger.WithComponent("server"),
		store:  st,
		loader: loader,
		health: checker,
		api:    a,
	}
	s.http = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Store returns the underlying store.
func (s *Server) Store() *store.Store {
	return s.store
}

// ApplyConfig applies the settings that can change without a restart:
// the stale threshold and the log level.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.loader.SetStaleAfter(cfg.Server.StaleAfterSeconds)
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		s.logger.SetLevel(level)
	}
	s.logger.Info("configuration reloaded",
		"stale_after_seconds", cfg.Server.StaleAfterSeconds,
		"log_level", cfg.Logging.Level)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	s.health.SetReady(true)
	s.logger.Info("listening", "addr", ln.Addr().String(), "db", s.store.Path())

	select {
	case err := <-errCh:
		s.health.SetReady(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("stopped")
	return nil
}

// Close releases the store and its instance lock.
func (s *Server) Close() error {
	return s.store.Close()
}
