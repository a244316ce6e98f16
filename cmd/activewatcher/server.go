package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"activewatcher/internal/api"
	"activewatcher/internal/config"
	"activewatcher/internal/logging"
)

var (
	serverHost     string
	serverPort     int
	serverDBPath   string
	serverLogLevel string
	serverNoReload bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP server",
	Long: `Run the activewatcher HTTP server. The configuration file is watched
and the stale threshold and log level are applied on change.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&serverHost, "host", "", "listen host")
	serverCmd.Flags().IntVar(&serverPort, "port", 0, "listen port")
	serverCmd.Flags().StringVar(&serverDBPath, "db-path", "", "SQLite database path")
	serverCmd.Flags().StringVar(&serverLogLevel, "log-level", "", "log level: debug, info, warn, error")
	serverCmd.Flags().BoolVar(&serverNoReload, "no-reload", false, "do not watch the config file")
}

// applyServerFlags overrides cfg with flags given on the command line.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = serverHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = serverPort
	}
	if flags.Changed("db-path") {
		cfg.Storage.Path = serverDBPath
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = serverLogLevel
	}
	cfg.Normalize()
	return cfg.Validate()
}

func runServer(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := applyServerFlags(cmd, cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, "server")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	if unknown := loader.UnknownKeys(); len(unknown) > 0 {
		logger.Warn("unknown config keys", "path", loader.Path(), "keys", unknown)
	}

	srv, err := api.NewServer(cfg, logger, version)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !serverNoReload {
		loader.OnChange(func(next *config.Config) {
			next = next.Clone()
			if err := applyServerFlags(cmd, next); err != nil {
				logger.Warn("ignoring reloaded configuration", "error", err)
				return
			}
			srv.ApplyConfig(next)
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("config watch disabled", "path", loader.Path(), "error", err)
		} else {
			defer loader.Close()
			go logReloadErrors(ctx, loader, logger.WithComponent("config"))
		}
	}

	return srv.Run(ctx)
}

func logReloadErrors(ctx context.Context, loader *config.Loader, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-loader.Errors():
			logger.Warn("config reload failed", "path", loader.Path(), "error", err)
		}
	}
}
