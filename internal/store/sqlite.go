package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"activewatcher/internal/timefmt"
)

// DefaultBusyTimeout is how long SQLite waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Options configures how a Store is opened.
type Options struct {
	// BusyTimeout overrides DefaultBusyTimeout when positive.
	BusyTimeout time.Duration

	// Exclusive takes an advisory lock on <path>.lock so that only one
	// process writes to the database.
	Exclusive bool
}

// Store represents the SQLite interval store.
type Store struct {
	db   *sql.DB
	path string

	// writeMu serializes write transactions within the process.
	writeMu sync.Mutex
	lock    *fileLock
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens the database with explicit options.
func OpenWithOptions(path string, opts Options) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	var lock *fileLock
	if opts.Exclusive {
		l, err := acquireLock(path + ".lock")
		if err != nil {
			return nil, err
		}
		lock = l
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d&_synchronous=NORMAL",
		path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		lock.release()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, path: path, lock: lock}, nil
}

// Close closes the database connection and releases the instance lock.
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	s.lock.release()
	return err
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Tx is a write transaction handed to WithTx callbacks.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

// WithTx runs fn inside a write transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// OpenInterval returns the open interval for (bucket, source), or nil if none.
func (t *Tx) OpenInterval(bucket, source string) (*Interval, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT id, bucket, source, start_ts, end_ts, last_seen_ts, data_json, data_hash
		FROM events
		WHERE bucket = ? AND source = ? AND end_ts IS NULL
		LIMIT 1`,
		bucket, source,
	)

	iv, err := scanInterval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open interval: %w", err)
	}
	return iv, nil
}

// InsertOpen inserts a new open interval starting at ts and returns its ID.
func (t *Tx) InsertOpen(bucket, source string, ts time.Time, dataJSON, dataHash string) (int64, error) {
	stamp := timefmt.Format(ts)
	result, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO events (bucket, source, start_ts, end_ts, last_seen_ts, data_json, data_hash)
		VALUES (?, ?, ?, NULL, ?, ?, ?)`,
		bucket, source, stamp, stamp, dataJSON, dataHash,
	)
	if err != nil {
		return 0, fmt.Errorf("insert interval: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// CloseInterval sets end_ts and last_seen_ts of an open interval to ts.
func (t *Tx) CloseInterval(id int64, ts time.Time) error {
	stamp := timefmt.Format(ts)
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE events SET end_ts = ?, last_seen_ts = ? WHERE id = ? AND end_ts IS NULL`,
		stamp, stamp, id,
	)
	if err != nil {
		return fmt.Errorf("close interval: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("open interval not found: %d", id)
	}
	return nil
}

// Touch advances last_seen_ts of an open interval.
func (t *Tx) Touch(id int64, ts time.Time) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE events SET last_seen_ts = ? WHERE id = ? AND end_ts IS NULL`,
		timefmt.Format(ts), id,
	)
	if err != nil {
		return fmt.Errorf("touch interval: %w", err)
	}
	return nil
}

// Get returns an interval by ID, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Interval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bucket, source, start_ts, end_ts, last_seen_ts, data_json, data_hash
		FROM events WHERE id = ?`, id)

	iv, err := scanInterval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get interval: %w", err)
	}
	return iv, nil
}

// Overlapping returns intervals that start before to and are either open or
// end after from, ordered by start time.
func (s *Store) Overlapping(ctx context.Context, f Filter, from, to time.Time) ([]Interval, error) {
	where, args := f.clauses()
	where = append(where, "start_ts < ?", "(end_ts IS NULL OR end_ts > ?)")
	args = append(args, timefmt.Format(to), timefmt.Format(from))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bucket, source, start_ts, end_ts, last_seen_ts, data_json, data_hash
		FROM events
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY start_ts ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query overlapping intervals: %w", err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

// List returns every interval for the filter ordered by start time.
func (s *Store) List(ctx context.Context, f Filter) ([]Interval, error) {
	where, args := f.clauses()
	query := `
		SELECT id, bucket, source, start_ts, end_ts, last_seen_ts, data_json, data_hash
		FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_ts ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intervals: %w", err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

// DataRange returns the earliest start and the latest end (or last-seen for
// open rows) for the filter. Both are nil when nothing matches.
func (s *Store) DataRange(ctx context.Context, f Filter) (*time.Time, *time.Time, error) {
	where, args := f.clauses()
	query := `SELECT MIN(start_ts), MAX(COALESCE(end_ts, last_seen_ts)) FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var minTS, maxTS sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&minTS, &maxTS); err != nil {
		return nil, nil, fmt.Errorf("query data range: %w", err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return nil, nil, nil
	}

	from, err := timefmt.Parse(minTS.String)
	if err != nil {
		return nil, nil, fmt.Errorf("decode range start: %w", err)
	}
	to, err := timefmt.Parse(maxTS.String)
	if err != nil {
		return nil, nil, fmt.Errorf("decode range end: %w", err)
	}
	return &from, &to, nil
}

// Stats returns row counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN end_ts IS NULL THEN 1 ELSE 0 END), 0) FROM events`,
	).Scan(&st.Rows, &st.Open)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}

func (f Filter) clauses() ([]string, []any) {
	var where []string
	var args []any
	if f.Bucket != "" {
		where = append(where, "bucket = ?")
		args = append(args, f.Bucket)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterval(row rowScanner) (*Interval, error) {
	var iv Interval
	var start, lastSeen string
	var end sql.NullString

	if err := row.Scan(&iv.ID, &iv.Bucket, &iv.Source, &start, &end, &lastSeen, &iv.DataJSON, &iv.DataHash); err != nil {
		return nil, err
	}

	var err error
	if iv.StartTS, err = timefmt.Parse(start); err != nil {
		return nil, fmt.Errorf("decode start_ts of %d: %w", iv.ID, err)
	}
	if iv.LastSeenTS, err = timefmt.Parse(lastSeen); err != nil {
		return nil, fmt.Errorf("decode last_seen_ts of %d: %w", iv.ID, err)
	}
	if end.Valid {
		e, err := timefmt.Parse(end.String)
		if err != nil {
			return nil, fmt.Errorf("decode end_ts of %d: %w", iv.ID, err)
		}
		iv.EndTS = &e
	}
	return &iv, nil
}

// scanIntervals is a helper to scan interval rows into a slice.
func scanIntervals(rows *sql.Rows) ([]Interval, error) {
	var intervals []Interval

	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		intervals = append(intervals, *iv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intervals: %w", err)
	}

	return intervals, nil
}
