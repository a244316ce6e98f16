package reports

import (
	"context"
	"time"

	"activewatcher/internal/store"
	"activewatcher/internal/timefmt"
)

// SummaryResult is the combined dashboard view for a window.
type SummaryResult struct {
	FromTS string `json:"from_ts"`
	ToTS   string `json:"to_ts"`
	Totals
	TopAppsMode    string     `json:"top_apps_mode"`
	TopApps        []AppTotal `json:"top_apps"`
	TopAppsActive  []AppTotal `json:"top_apps_active"`
	TopAppsWindow  []AppTotal `json:"top_apps_window"`
	Timeline       []Segment  `json:"timeline"`
	TimelineChunks []Chunk    `json:"timeline_chunks"`
}

// Summary builds the timeline for [from, to] and every aggregate over it.
func (s *Service) Summary(ctx context.Context, from, to time.Time, chunkSeconds int) (*SummaryResult, error) {
	from, to = orderRange(from, to)

	window, err := s.loader.Load(ctx, store.Filter{Bucket: BucketWindow}, from, to)
	if err != nil {
		return nil, err
	}
	idle, err := s.loader.Load(ctx, store.Filter{Bucket: BucketIdle}, from, to)
	if err != nil {
		return nil, err
	}

	segments := BuildTimeline(from, to, window, idle)
	active := TopAppsActive(segments)
	windowed := TopAppsWindow(segments)

	hasIdle := false
	for _, seg := range segments {
		if seg.AFK != nil {
			hasIdle = true
			break
		}
	}

	res := &SummaryResult{
		FromTS:         timefmt.Format(from),
		ToTS:           timefmt.Format(to),
		Totals:         ActivityTotals(segments),
		TopAppsMode:    ModeWindow,
		TopApps:        windowed,
		TopAppsActive:  active,
		TopAppsWindow:  windowed,
		Timeline:       nonNil(segments),
		TimelineChunks: nonNil(ChunkTimeline(from, to, segments, chunkSeconds)),
	}
	if hasIdle {
		res.TopAppsMode = ModeActive
		res.TopApps = active
	}
	return res, nil
}
