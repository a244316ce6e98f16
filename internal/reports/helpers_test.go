package reports

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"activewatcher/internal/store"
	"activewatcher/internal/timefmt"
)

type row struct {
	bucket   string
	source   string
	start    string
	end      string // empty for open rows
	lastSeen string // open rows only; defaults to start
	data     string
}

func newTestStore(t *testing.T, rows ...row) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	err = s.WithTx(context.Background(), func(tx *store.Tx) error {
		for _, r := range rows {
			source := r.source
			if source == "" {
				source = "test"
			}
			id, err := tx.InsertOpen(r.bucket, source, ts(r.start), r.data, store.HashData(r.data))
			if err != nil {
				return err
			}
			if r.end != "" {
				if err := tx.CloseInterval(id, ts(r.end)); err != nil {
					return err
				}
			} else if r.lastSeen != "" {
				if err := tx.Touch(id, ts(r.lastSeen)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
	return s
}

func ts(v string) time.Time {
	return timefmt.MustParse(v)
}

func iv(start, end string, data map[string]any) Interval {
	return Interval{Start: ts(start), End: ts(end), Data: data}
}

func boolPtr(v bool) *bool {
	return &v
}
