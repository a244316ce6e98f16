package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activewatcher/internal/ingest"
)

type fakeSender struct {
	posts []State
	err   error
}

func (f *fakeSender) PostState(_ context.Context, st State) (*StateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.posts = append(f.posts, st)
	return &StateResult{Status: "ok", Result: ingest.Result{Action: ingest.ActionRefreshed}}, nil
}

var epoch = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newReporter(t *testing.T, heartbeat time.Duration) (*Reporter, *fakeSender, *quartz.Mock) {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(epoch)
	sender := &fakeSender{}
	r := NewReporter(sender, ReporterConfig{
		Bucket:    "idle",
		Source:    "test",
		Heartbeat: heartbeat,
		Clock:     mClock,
	})
	return r, sender, mClock
}

func TestReporterSuppressesUnchangedState(t *testing.T) {
	r, sender, mClock := newReporter(t, 30*time.Second)
	ctx := context.Background()
	data := map[string]any{"afk": false}

	sent, err := r.Send(ctx, Snapshot{Data: data})
	require.NoError(t, err)
	assert.True(t, sent)

	mClock.Advance(10 * time.Second)
	sent, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
	require.NoError(t, err)
	assert.False(t, sent)

	mClock.Advance(20 * time.Second)
	sent, err = r.Send(ctx, Snapshot{Data: data})
	require.NoError(t, err)
	assert.True(t, sent, "heartbeat due")

	mClock.Advance(time.Second)
	sent, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": true}})
	require.NoError(t, err)
	assert.True(t, sent, "state changed")

	sent, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": true}, Force: true})
	require.NoError(t, err)
	assert.True(t, sent, "forced")

	require.Len(t, sender.posts, 4)
	assert.Equal(t, epoch, sender.posts[0].TS)
	assert.Equal(t, "idle", sender.posts[0].Bucket)
	assert.Equal(t, "test", sender.posts[0].Source)
}

func TestReporterZeroHeartbeatNeverRepeats(t *testing.T) {
	r, sender, mClock := newReporter(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
		require.NoError(t, err)
		mClock.Advance(time.Hour)
	}
	assert.Len(t, sender.posts, 1)
}

func TestReporterBumpsTimestamps(t *testing.T) {
	r, sender, mClock := newReporter(t, 0)
	ctx := context.Background()

	_, err := r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
	require.NoError(t, err)

	// Same instant, different state: bumped by a millisecond but the clock
	// has not moved, so it is capped at now.
	_, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": true}})
	require.NoError(t, err)
	assert.Equal(t, epoch, sender.posts[1].TS)

	mClock.Advance(time.Second)
	_, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}, TS: epoch.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Millisecond), sender.posts[2].TS)

	_, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": true}, TS: epoch.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Second), sender.posts[3].TS, "future timestamps are capped at now")
}

func TestReporterBackfill(t *testing.T) {
	r, sender, mClock := newReporter(t, 0)
	ctx := context.Background()

	_, err := r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
	require.NoError(t, err)

	mClock.Advance(10 * time.Minute)
	now := epoch.Add(10 * time.Minute)
	transition := epoch.Add(5 * time.Minute)

	sent, err := r.Send(ctx, Snapshot{
		Data:     map[string]any{"afk": true},
		TS:       transition,
		Backfill: true,
	})
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, sender.posts, 3)
	assert.Equal(t, transition, sender.posts[1].TS)
	assert.Equal(t, now, sender.posts[2].TS)
	assert.Equal(t, sender.posts[1].Data, sender.posts[2].Data)

	// The refresh timestamp is remembered, so an older snapshot is bumped past it.
	mClock.Advance(time.Second)
	_, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}, TS: transition})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Millisecond), sender.posts[3].TS)
}

func TestReporterBackfillSkippedWhenRecent(t *testing.T) {
	r, sender, mClock := newReporter(t, 0)
	mClock.Advance(500 * time.Millisecond)

	_, err := r.Send(context.Background(), Snapshot{
		Data:     map[string]any{"afk": true},
		TS:       epoch,
		Backfill: true,
	})
	require.NoError(t, err)
	assert.Len(t, sender.posts, 1)
}

func TestReporterResetsOnConflict(t *testing.T) {
	r, sender, mClock := newReporter(t, 0)
	ctx := context.Background()
	data := map[string]any{"afk": false}

	_, err := r.Send(ctx, Snapshot{Data: data})
	require.NoError(t, err)

	sender.err = &Error{StatusCode: 409, Message: "non-monotonic timestamp"}
	mClock.Advance(time.Second)
	_, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": true}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	// After a reset the unchanged state is sent again.
	sender.err = nil
	sent, err := r.Send(ctx, Snapshot{Data: data})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, sender.posts, 2)
}

func TestReporterKeepsStateOnTransportError(t *testing.T) {
	r, sender, _ := newReporter(t, 0)
	ctx := context.Background()

	sender.err = errors.New("connection refused")
	sent, err := r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
	require.Error(t, err)
	assert.False(t, sent)

	sender.err = nil
	sent, err = r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
	require.NoError(t, err)
	assert.True(t, sent, "unsent state is retried")
}

func TestReporterEnd(t *testing.T) {
	r, sender, mClock := newReporter(t, 0)
	ctx := context.Background()

	_, err := r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
	require.NoError(t, err)

	mClock.Advance(time.Minute)
	require.NoError(t, r.End(ctx))
	require.Len(t, sender.posts, 2)
	assert.Equal(t, epoch.Add(time.Minute), sender.posts[1].TS)
	assert.Equal(t, true, sender.posts[1].Data[ingest.EndMarkerKey])

	sent, err := r.Send(ctx, Snapshot{Data: map[string]any{"afk": false}})
	require.NoError(t, err)
	assert.True(t, sent, "state is forgotten after End")
}
