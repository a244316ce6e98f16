package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"activewatcher/internal/ingest"
	"activewatcher/internal/logging"
)

// backfillSlack is how far behind now a transition must be before the
// reporter follows it with a refresh at now.
const backfillSlack = time.Second

// Sender posts snapshots. *Client implements it.
type Sender interface {
	PostState(ctx context.Context, st State) (*StateResult, error)
}

// Snapshot is one observation from a watcher.
type Snapshot struct {
	Data map[string]any

	// TS is when the state began. Zero means now.
	TS time.Time

	// Force sends even if nothing changed and no heartbeat is due.
	Force bool

	// Backfill asks for a second post at now when TS lies in the past, so
	// the backdated interval is extended up to the present.
	Backfill bool
}

// Reporter sends snapshots for one (bucket, source) key. It suppresses
// unchanged state between heartbeats and keeps timestamps strictly
// increasing.
type Reporter struct {
	sender    Sender
	clock     quartz.Clock
	bucket    string
	source    string
	heartbeat time.Duration
	logger    *logging.Logger

	mu         sync.Mutex
	lastState  string
	hasLast    bool
	lastSentAt time.Time
	lastTS     time.Time
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Bucket string
	Source string

	// Heartbeat resends unchanged state this often. Zero disables it.
	Heartbeat time.Duration

	Clock  quartz.Clock
	Logger *logging.Logger
}

// NewReporter creates a Reporter.
func NewReporter(sender Sender, cfg ReporterConfig) *Reporter {
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reporter{
		sender:    sender,
		clock:     clock,
		bucket:    cfg.Bucket,
		source:    cfg.Source,
		heartbeat: cfg.Heartbeat,
		logger:    logger.WithComponent("reporter"),
	}
}

// Send posts the snapshot if it is forced, differs from the last sent
// state, or a heartbeat is due. It reports whether anything was sent.
//
// On ErrConflict the remembered state is cleared so the next call resends.
func (r *Reporter) Send(ctx context.Context, snap Snapshot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := ingest.CanonicalJSON(snap.Data)
	if err != nil {
		return false, fmt.Errorf("encode state: %w", err)
	}

	now := r.now()
	ts := snap.TS.UTC().Truncate(time.Millisecond)
	if snap.TS.IsZero() {
		ts = now
	}

	changed := !r.hasLast || state != r.lastState
	heartbeatDue := r.heartbeat > 0 && now.Sub(r.lastSentAt) >= r.heartbeat
	if !snap.Force && !changed && !heartbeatDue {
		return false, nil
	}

	if !r.lastTS.IsZero() && !ts.After(r.lastTS) {
		ts = minTime(r.lastTS.Add(time.Millisecond), now)
	}
	ts = minTime(ts, now)

	if err := r.post(ctx, snap.Data, ts); err != nil {
		return false, err
	}

	if snap.Backfill && ts.Before(now.Add(-backfillSlack)) {
		refresh := now
		if !now.After(ts) {
			refresh = ts.Add(time.Millisecond)
		}
		if err := r.post(ctx, snap.Data, refresh); err != nil {
			return true, err
		}
		ts = refresh
	}

	r.lastState = state
	r.hasLast = true
	r.lastSentAt = now
	r.lastTS = ts
	return true, nil
}

// End closes the open interval for the key at now, or just after the last
// sent timestamp if the clock lags behind it.
func (r *Reporter) End(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now()
	if ts.Before(r.lastTS) {
		ts = r.lastTS
	}
	if err := r.post(ctx, map[string]any{ingest.EndMarkerKey: true}, ts); err != nil {
		return err
	}
	r.reset()
	return nil
}

func (r *Reporter) post(ctx context.Context, data map[string]any, ts time.Time) error {
	res, err := r.sender.PostState(ctx, State{
		Bucket: r.bucket,
		Source: r.source,
		TS:     ts,
		Data:   data,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			r.logger.Warn("server rejected timestamp, resetting",
				"bucket", r.bucket, "source", r.source, "ts", ts, "error", err)
			r.reset()
		}
		return err
	}
	if res != nil {
		r.logger.Debug("state sent",
			"bucket", r.bucket, "source", r.source, "ts", ts, "action", res.Action)
	}
	return nil
}

func (r *Reporter) reset() {
	r.lastState = ""
	r.hasLast = false
	r.lastSentAt = time.Time{}
	r.lastTS = time.Time{}
}

func (r *Reporter) now() time.Time {
	return r.clock.Now().UTC().Truncate(time.Millisecond)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
