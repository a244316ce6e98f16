package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"activewatcher/internal/store"
	"activewatcher/internal/timefmt"
)

var migrateDBPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect or change the database schema",
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := dbPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("database %s: %w", path, err)
		}

		db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		status, err := store.GetMigrationStatus(db)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, migrationReport(path, status))
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := dbPath()
		if err != nil {
			return err
		}
		st, err := store.OpenWithOptions(path, store.Options{Exclusive: true})
		if err != nil {
			return err
		}
		defer st.Close()

		if err := store.ValidateSchema(st.DB()); err != nil {
			return err
		}
		status, err := store.GetMigrationStatus(st.DB())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, migrationReport(path, status))
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := dbPath()
		if err != nil {
			return err
		}
		st, err := store.OpenWithOptions(path, store.Options{Exclusive: true})
		if err != nil {
			return err
		}
		defer st.Close()

		if err := store.RollbackMigration(st.DB()); err != nil {
			return err
		}
		status, err := store.GetMigrationStatus(st.DB())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, migrationReport(path, status))
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDBPath, "db-path", "", "SQLite database path (default from config)")
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
}

func dbPath() (string, error) {
	if migrateDBPath != "" {
		return migrateDBPath, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Storage.Path, nil
}

type migrationEntry struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	AppliedAt   string `json:"applied_at,omitempty"`
}

type migrationSummary struct {
	Path           string           `json:"path"`
	CurrentVersion int              `json:"current_version"`
	LatestVersion  int              `json:"latest_version"`
	Applied        []migrationEntry `json:"applied"`
	Pending        []migrationEntry `json:"pending"`
}

func migrationReport(path string, status *store.MigrationStatus) migrationSummary {
	out := migrationSummary{
		Path:           path,
		CurrentVersion: status.CurrentVersion,
		LatestVersion:  status.LatestVersion,
		Applied:        []migrationEntry{},
		Pending:        []migrationEntry{},
	}
	for _, m := range status.Applied {
		out.Applied = append(out.Applied, migrationEntry{
			Version:     m.Version,
			Description: m.Description,
			AppliedAt:   timefmt.Format(m.AppliedAt),
		})
	}
	for _, m := range status.Pending {
		out.Pending = append(out.Pending, migrationEntry{Version: m.Version, Description: m.Description})
	}
	return out
}
