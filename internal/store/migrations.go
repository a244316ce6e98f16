package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migration is one schema step. Up and Down are loaded from
// schema/NNNN_name.{up,down}.sql; the first "-- " line of the up file is
// the description.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string

	// Backfill runs after Up in the same transaction.
	Backfill func(tx *sql.Tx) error
}

var backfills = map[int]func(*sql.Tx) error{
	2: backfillDataHash,
}

var migrations = mustLoadMigrations(schemaFS)

func mustLoadMigrations(fsys fs.FS) []Migration {
	ms, err := loadMigrations(fsys)
	if err != nil {
		panic(err)
	}
	return ms
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	ups, err := fs.Glob(fsys, "schema/*.up.sql")
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, up := range ups {
		base := strings.TrimSuffix(path.Base(up), ".up.sql")
		num, _, _ := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version prefix", up)
		}

		upSQL, err := fs.ReadFile(fsys, up)
		if err != nil {
			return nil, err
		}
		downSQL, err := fs.ReadFile(fsys, path.Join("schema", base+".down.sql"))
		if err != nil {
			return nil, fmt.Errorf("migration %d: %w", version, err)
		}

		m := Migration{
			Version:  version,
			Up:       string(upSQL),
			Down:     string(downSQL),
			Backfill: backfills[version],
		}
		if first, _, _ := strings.Cut(m.Up, "\n"); strings.HasPrefix(first, "-- ") {
			m.Description = strings.TrimPrefix(first, "-- ")
		}
		if n := len(out); n > 0 && out[n-1].Version >= version {
			return nil, fmt.Errorf("migration %d: out of order", version)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, errors.New("no migrations found")
	}
	return out, nil
}

func backfillDataHash(tx *sql.Tx) error {
	rows, err := tx.Query(`SELECT id, data_json FROM events WHERE data_hash = ''`)
	if err != nil {
		return fmt.Errorf("query rows to backfill: %w", err)
	}
	hashes := map[int64]string{}
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return fmt.Errorf("scan row to backfill: %w", err)
		}
		hashes[id] = HashData(data)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("iterate rows to backfill: %w", err)
	}

	for id, hash := range hashes {
		if _, err := tx.Exec(`UPDATE events SET data_hash = ? WHERE id = ?`, hash, id); err != nil {
			return fmt.Errorf("backfill row %d: %w", id, err)
		}
	}
	return nil
}

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
)`

func currentVersion(q interface {
	QueryRow(query string, args ...any) *sql.Row
}) (int, error) {
	var v int
	if err := q.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// MigrateDB brings db up to the latest schema version.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(createVersionTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	have, err := currentVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version > have {
			if err := applyMigration(db, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// inTx runs fn in a transaction that commits only if fn succeeds.
func inTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func applyMigration(db *sql.DB, m Migration) error {
	err := inTx(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(m.Up); err != nil {
			return err
		}
		if m.Backfill != nil {
			if err := m.Backfill(tx); err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
		}
		_, err := tx.Exec(
			`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
			m.Version, time.Now().UnixMilli(), m.Description,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
	}
	return nil
}

// RollbackMigration undoes the most recently applied migration.
func RollbackMigration(db *sql.DB) error {
	have, err := currentVersion(db)
	if err != nil {
		return err
	}
	if have == 0 {
		return errors.New("no migrations to roll back")
	}

	var m *Migration
	for i := range migrations {
		if migrations[i].Version == have {
			m = &migrations[i]
		}
	}
	if m == nil {
		return fmt.Errorf("schema version %d is unknown to this binary", have)
	}

	err = inTx(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(m.Down); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, have)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %d: %w", have, err)
	}
	return nil
}

// MigrationStatus compares the database with the embedded migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Applied        []AppliedMigration
	Pending        []Migration
}

// AppliedMigration is one schema_migrations row.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

// GetMigrationStatus reads schema_migrations. A database without that
// table reports every migration as pending.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{LatestVersion: migrations[len(migrations)-1].Version}

	rows, err := db.Query(`SELECT version, applied_at, description FROM schema_migrations ORDER BY version`)
	if err != nil {
		status.Pending = migrations
		return status, nil
	}
	defer rows.Close()

	done := map[int]bool{}
	for rows.Next() {
		var am AppliedMigration
		var at int64
		var desc sql.NullString
		if err := rows.Scan(&am.Version, &at, &desc); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		am.AppliedAt = time.UnixMilli(at).UTC()
		am.Description = desc.String
		status.Applied = append(status.Applied, am)
		status.CurrentVersion = max(status.CurrentVersion, am.Version)
		done[am.Version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema fails if a required table is missing.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"events", "schema_migrations"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}
