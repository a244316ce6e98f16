// Package ingest applies current-state snapshots to the interval store.
//
// Each (bucket, source) key has at most one open interval. A snapshot with
// the same canonical data refreshes it, different data rotates it, and the
// end marker closes it. Timestamps must never move backwards.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"activewatcher/internal/store"
	"activewatcher/internal/timefmt"
)

// ErrNonMonotonicTimestamp is returned when a snapshot would move an
// interval backwards in time.
var ErrNonMonotonicTimestamp = errors.New("non-monotonic timestamp")

// Action describes what an ingest did to the store.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionRefreshed Action = "refreshed"
	ActionRotated   Action = "rotated"
	ActionEnded     Action = "ended"
	ActionEndedNoop Action = "ended_noop"
)

// State is one snapshot pushed by a watcher.
type State struct {
	Bucket string
	Source string
	TS     time.Time
	Data   map[string]any
}

// Result reports the outcome of an ingest.
type Result struct {
	Action     Action `json:"action"`
	PreviousID *int64 `json:"previous_event_id"`
	CurrentID  *int64 `json:"current_event_id"`
}

// Engine runs the ingestion state machine against a store.
type Engine struct {
	store *store.Store
}

// New creates an Engine backed by s.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Ingest applies st atomically. On error the store is left unchanged.
func (e *Engine) Ingest(ctx context.Context, st State) (Result, error) {
	if st.Bucket == "" || st.Source == "" {
		return Result{}, fmt.Errorf("bucket and source are required")
	}

	ts := timefmt.Normalize(st.TS)
	endRequested, data := splitEndMarker(st.Data)
	dataJSON, err := CanonicalJSON(data)
	if err != nil {
		return Result{}, err
	}
	dataHash := store.HashData(dataJSON)

	var res Result
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		open, err := tx.OpenInterval(st.Bucket, st.Source)
		if err != nil {
			return err
		}

		if endRequested {
			res, err = end(tx, st, ts, open)
			return err
		}

		if open == nil {
			id, err := tx.InsertOpen(st.Bucket, st.Source, ts, dataJSON, dataHash)
			if err != nil {
				return err
			}
			res = Result{Action: ActionInserted, CurrentID: ptr(id)}
			return nil
		}

		if open.DataHash == dataHash && open.DataJSON == dataJSON {
			// Late duplicates are accepted but never move last_seen backwards.
			if ts.After(open.LastSeenTS) {
				if err := tx.Touch(open.ID, ts); err != nil {
					return err
				}
			}
			res = Result{Action: ActionRefreshed, PreviousID: ptr(open.ID), CurrentID: ptr(open.ID)}
			return nil
		}

		if !ts.After(open.LastSeenTS) {
			return nonMonotonic(st, ts, "<=", open.LastSeenTS)
		}
		if !ts.After(open.StartTS) {
			return nonMonotonic(st, ts, "<=", open.StartTS)
		}

		if err := tx.CloseInterval(open.ID, ts); err != nil {
			return err
		}
		id, err := tx.InsertOpen(st.Bucket, st.Source, ts, dataJSON, dataHash)
		if err != nil {
			return err
		}
		res = Result{Action: ActionRotated, PreviousID: ptr(open.ID), CurrentID: ptr(id)}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func end(tx *store.Tx, st State, ts time.Time, open *store.Interval) (Result, error) {
	if open == nil {
		return Result{Action: ActionEndedNoop}, nil
	}
	if ts.Before(open.LastSeenTS) {
		return Result{}, nonMonotonic(st, ts, "<", open.LastSeenTS)
	}
	if ts.Before(open.StartTS) {
		return Result{}, nonMonotonic(st, ts, "<", open.StartTS)
	}
	if err := tx.CloseInterval(open.ID, ts); err != nil {
		return Result{}, err
	}
	return Result{Action: ActionEnded, PreviousID: ptr(open.ID)}, nil
}

func nonMonotonic(st State, ts time.Time, op string, bound time.Time) error {
	return fmt.Errorf("%w for (%s,%s): %s %s %s", ErrNonMonotonicTimestamp,
		st.Bucket, st.Source, timefmt.Format(ts), op, timefmt.Format(bound))
}

func ptr(v int64) *int64 {
	return &v
}
