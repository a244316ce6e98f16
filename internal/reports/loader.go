package reports

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"activewatcher/internal/store"
	"activewatcher/internal/timefmt"
)

// DefaultStaleAfter is how long an open interval may go without a heartbeat
// before queries stop extending it to the end of the window.
const DefaultStaleAfter = 120 * time.Second

// IntervalSource is the read side of the interval store.
type IntervalSource interface {
	Overlapping(ctx context.Context, f store.Filter, from, to time.Time) ([]store.Interval, error)
	DataRange(ctx context.Context, f store.Filter) (*time.Time, *time.Time, error)
}

// Loader fetches intervals overlapping a window and clips them to it.
type Loader struct {
	src   IntervalSource
	clock quartz.Clock

	// staleAfter holds seconds; 0 disables stale clamping.
	staleAfter atomic.Int64
}

// NewLoader creates a Loader. A nil clock uses the real clock.
func NewLoader(src IntervalSource, clock quartz.Clock, staleAfterSeconds int) *Loader {
	if clock == nil {
		clock = quartz.NewReal()
	}
	l := &Loader{src: src, clock: clock}
	l.SetStaleAfter(staleAfterSeconds)
	return l
}

// SetStaleAfter updates the stale threshold. Negative values disable it.
func (l *Loader) SetStaleAfter(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	l.staleAfter.Store(int64(seconds))
}

// StaleAfter returns the current stale threshold.
func (l *Loader) StaleAfter() time.Duration {
	return time.Duration(l.staleAfter.Load()) * time.Second
}

// Now returns the loader clock's current time in canonical precision.
func (l *Loader) Now() time.Time {
	return timefmt.Normalize(l.clock.Now("reports", "now"))
}

// ResolveRange fills in a missing to with now and a missing from with
// to - span, then orders the pair.
func ResolveRange(now time.Time, from, to *time.Time, span time.Duration) (time.Time, time.Time) {
	end := now
	if to != nil {
		end = *to
	}
	start := end.Add(-span)
	if from != nil {
		start = *from
	}
	start, end = timefmt.Normalize(start), timefmt.Normalize(end)
	if end.Before(start) {
		start, end = end, start
	}
	return start, end
}

// Load returns intervals matching f that overlap [from, to), clipped to the
// window. Open intervals extend to to unless their last heartbeat is older
// than the stale threshold, in which case they end at the last heartbeat.
func (l *Loader) Load(ctx context.Context, f store.Filter, from, to time.Time) ([]Interval, error) {
	from, to = timefmt.Normalize(from), timefmt.Normalize(to)
	if to.Before(from) {
		from, to = to, from
	}

	rows, err := l.src.Overlapping(ctx, f, from, to)
	if err != nil {
		return nil, fmt.Errorf("load intervals: %w", err)
	}

	staleAfter := l.StaleAfter()
	var staleBefore time.Time
	if staleAfter > 0 {
		staleBefore = to.Add(-staleAfter)
	}

	out := make([]Interval, 0, len(rows))
	for _, r := range rows {
		var end time.Time
		switch {
		case r.EndTS != nil:
			end = *r.EndTS
		case staleAfter > 0 && r.LastSeenTS.Before(staleBefore):
			end = minTime(r.LastSeenTS, to)
		default:
			end = to
		}

		start := maxTime(r.StartTS, from)
		end = minTime(end, to)
		if !end.After(start) {
			continue
		}

		out = append(out, Interval{
			ID:     r.ID,
			Bucket: r.Bucket,
			Source: r.Source,
			Start:  start,
			End:    end,
			Data:   decodeData(r.DataJSON),
		})
	}
	return out, nil
}
