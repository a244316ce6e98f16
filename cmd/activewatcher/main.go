// activewatcher records desktop activity as intervals and serves reports
// over HTTP.
//
//	activewatcher server          Run the HTTP server
//	activewatcher watch idle      Report logind idle state
//	activewatcher summary         Print the activity summary
//	activewatcher migrate status  Show database schema version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

var (
	configPath   string
	serverURL    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "activewatcher",
	Short: "Local activity tracker",
	Long: `activewatcher stores timestamped state snapshots from watcher
processes as intervals and answers timeline, summary and heatmap queries.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $XDG_CONFIG_HOME/activewatcher/config.toml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "activewatcher server URL (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(heatmapCmd)
	rootCmd.AddCommand(rangeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
