package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"activewatcher/internal/store"
	"activewatcher/internal/timefmt"
)

// Default look-back spans when a query omits from.
const (
	DefaultEventsSpan  = 24 * time.Hour
	DefaultHistorySpan = 365 * 24 * time.Hour
)

// Service answers the read-side queries.
type Service struct {
	src    IntervalSource
	loader *Loader
}

// NewService creates a Service reading through loader.
func NewService(src IntervalSource, loader *Loader) *Service {
	return &Service{src: src, loader: loader}
}

// Loader returns the interval loader.
func (s *Service) Loader() *Loader {
	return s.loader
}

// RangeResult describes the extent of stored data.
type RangeResult struct {
	Empty  bool    `json:"empty"`
	FromTS *string `json:"from_ts"`
	ToTS   *string `json:"to_ts"`
}

// Range reports the earliest start and latest end or heartbeat for f.
func (s *Service) Range(ctx context.Context, f store.Filter) (*RangeResult, error) {
	from, to, err := s.src.DataRange(ctx, f)
	if err != nil {
		return nil, err
	}
	if from == nil || to == nil {
		return &RangeResult{Empty: true}, nil
	}
	if to.Before(*from) {
		from, to = to, from
	}
	fs, ts := timefmt.Format(*from), timefmt.Format(*to)
	return &RangeResult{FromTS: &fs, ToTS: &ts}, nil
}

// EventsResult lists clipped intervals for a window.
type EventsResult struct {
	FromTS string     `json:"from_ts"`
	ToTS   string     `json:"to_ts"`
	Events []Interval `json:"events"`
}

// Events returns intervals matching f clipped to [from, to].
func (s *Service) Events(ctx context.Context, f store.Filter, from, to time.Time) (*EventsResult, error) {
	from, to = orderRange(from, to)
	intervals, err := s.loader.Load(ctx, f, from, to)
	if err != nil {
		return nil, err
	}
	return &EventsResult{
		FromTS: timefmt.Format(from),
		ToTS:   timefmt.Format(to),
		Events: intervals,
	}, nil
}

// AppsResult lists distinct app names.
type AppsResult struct {
	FromTS string   `json:"from_ts"`
	ToTS   string   `json:"to_ts"`
	Apps   []string `json:"apps"`
}

// Apps lists up to limit distinct apps seen in the window bucket between
// from and to, sorted by name.
func (s *Service) Apps(ctx context.Context, from, to time.Time, limit int) (*AppsResult, error) {
	from, to = orderRange(from, to)
	limit = max(1, min(5000, limit))

	rows, err := s.src.Overlapping(ctx, store.Filter{Bucket: BucketWindow}, from, to)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}

	seen := make(map[string]bool)
	for _, r := range rows {
		app := appName(decodeData(r.DataJSON))
		if !countedApp(app) {
			continue
		}
		seen[app] = true
		if len(seen) >= limit {
			break
		}
	}

	apps := make([]string, 0, len(seen))
	for app := range seen {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	return &AppsResult{FromTS: timefmt.Format(from), ToTS: timefmt.Format(to), Apps: apps}, nil
}

func orderRange(from, to time.Time) (time.Time, time.Time) {
	from, to = timefmt.Normalize(from), timefmt.Normalize(to)
	if to.Before(from) {
		from, to = to, from
	}
	return from, to
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
