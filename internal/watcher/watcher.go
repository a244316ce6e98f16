// Package watcher observes the local session and reports its state to an
// activewatcher server.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"activewatcher/internal/client"
	"activewatcher/internal/logging"
)

// BucketIdle is the bucket idle snapshots are written to.
const BucketIdle = "idle"

// minPoll bounds how often the session is polled.
const minPoll = 200 * time.Millisecond

// endTimeout bounds the end marker sent on shutdown.
const endTimeout = 5 * time.Second

// Reporter sends snapshots for one key.
type Reporter interface {
	Send(ctx context.Context, snap client.Snapshot) (bool, error)
	End(ctx context.Context) error
}

// Config configures an IdleWatcher.
type Config struct {
	Threshold time.Duration
	Poll      time.Duration

	// LockProcess names a process whose presence forces AFK.
	LockProcess string

	// EndOnExit closes the open idle interval when Run returns.
	EndOnExit bool

	Clock  quartz.Clock
	Logger *logging.Logger
}

// IdleWatcher polls logind and reports AFK state.
type IdleWatcher struct {
	props     PropsReader
	reporter  Reporter
	lock      *ProcessCache
	threshold time.Duration
	poll      time.Duration
	endOnExit bool
	clock     quartz.Clock
	logger    *logging.Logger

	monotonic func() (time.Duration, error)
}

// NewIdle creates an IdleWatcher.
func NewIdle(props PropsReader, reporter Reporter, cfg Config) *IdleWatcher {
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &IdleWatcher{
		props:     props,
		reporter:  reporter,
		lock:      NewProcessCache(cfg.LockProcess),
		threshold: max(0, cfg.Threshold),
		poll:      max(minPoll, cfg.Poll),
		endOnExit: cfg.EndOnExit,
		clock:     clock,
		logger:    logger.WithComponent("idle"),
		monotonic: monotonicNow,
	}
}

// Run polls until ctx is canceled. Poll errors are logged and do not stop
// the loop.
func (w *IdleWatcher) Run(ctx context.Context) error {
	w.logger.Info("idle watcher started",
		"session", w.props.SessionID(),
		"threshold", w.threshold,
		"poll", w.poll,
	)

	timer := w.clock.NewTimer(0, "idle", "poll")
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finish()
			return nil
		case <-timer.C:
		}

		if err := w.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("idle poll failed", "error", err)
		}
		timer.Reset(w.poll, "idle", "poll")
	}
}

// Poll reads the session once and reports the resulting state.
func (w *IdleWatcher) Poll(ctx context.Context) error {
	now := w.clock.Now().UTC()

	props, err := w.props.ReadProps(ctx)
	if err != nil {
		return err
	}

	var mono time.Duration
	if props.HasMonotonic && props.IdleSinceHint == 0 {
		if mono, err = w.monotonic(); err != nil {
			return fmt.Errorf("read monotonic clock: %w", err)
		}
	}

	forced := w.lock.Running()
	d := ComputeAFK(props, w.threshold, forced, now, mono)

	ts := d.Transition
	if ts.IsZero() {
		ts = now
	}

	sent, err := w.reporter.Send(ctx, client.Snapshot{
		Data:     w.data(d.AFK),
		TS:       ts,
		Backfill: d.AFK,
	})
	if err != nil {
		return fmt.Errorf("send idle state: %w", err)
	}
	if sent {
		w.logger.Debug("idle state reported", "afk", d.AFK, "ts", ts, "lock_process", forced)
	}
	return nil
}

func (w *IdleWatcher) data(afk bool) map[string]any {
	return map[string]any{
		"afk":               afk,
		"threshold_seconds": int(w.threshold / time.Second),
		"session_id":        w.props.SessionID(),
	}
}

func (w *IdleWatcher) finish() {
	if !w.endOnExit {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	if err := w.reporter.End(ctx); err != nil {
		w.logger.Warn("failed to end idle interval", "error", err)
	}
}
