package reports

import (
	"math"
	"sort"
	"time"

	"activewatcher/internal/timefmt"
)

// Totals splits a timeline into afk, active and unknown time.
type Totals struct {
	TotalSeconds   float64 `json:"total_seconds"`
	AFKSeconds     float64 `json:"afk_seconds"`
	ActiveSeconds  float64 `json:"active_seconds"`
	UnknownSeconds float64 `json:"unknown_seconds"`
}

// AppTotal is one row of an app ranking. Exactly one of the percent fields
// is set depending on the ranking.
type AppTotal struct {
	App           string   `json:"app"`
	Seconds       float64  `json:"seconds"`
	PercentActive *float64 `json:"percent_active,omitempty"`
	PercentWindow *float64 `json:"percent_window,omitempty"`
}

// Chunk summarizes a fixed-size slice of the timeline.
type Chunk struct {
	StartTS        string  `json:"start_ts"`
	EndTS          string  `json:"end_ts"`
	ActiveSeconds  float64 `json:"active_seconds"`
	AFKSeconds     float64 `json:"afk_seconds"`
	UnknownSeconds float64 `json:"unknown_seconds"`
	TopApp         *string `json:"top_app"`
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ActivityTotals sums segment durations by idle state.
func ActivityTotals(segments []Segment) Totals {
	var t Totals
	for _, seg := range segments {
		d := seg.Seconds()
		t.TotalSeconds += d
		switch {
		case seg.AFK == nil:
			t.UnknownSeconds += d
		case *seg.AFK:
			t.AFKSeconds += d
		default:
			t.ActiveSeconds += d
		}
	}
	return Totals{
		TotalSeconds:   round3(t.TotalSeconds),
		AFKSeconds:     round3(t.AFKSeconds),
		ActiveSeconds:  round3(t.ActiveSeconds),
		UnknownSeconds: round3(t.UnknownSeconds),
	}
}

// TopAppsActive ranks apps by time spent focused while not AFK.
func TopAppsActive(segments []Segment) []AppTotal {
	return rankApps(segments, true)
}

// TopAppsWindow ranks apps by focused time regardless of idle state.
func TopAppsWindow(segments []Segment) []AppTotal {
	return rankApps(segments, false)
}

func rankApps(segments []Segment, activeOnly bool) []AppTotal {
	totals := make(map[string]float64)
	var total float64

	for _, seg := range segments {
		if activeOnly && (seg.AFK == nil || *seg.AFK) {
			continue
		}
		if len(seg.Window) == 0 {
			continue
		}
		app := appName(seg.Window)
		if !countedApp(app) {
			continue
		}
		d := seg.Seconds()
		totals[app] += d
		total += d
	}

	out := make([]AppTotal, 0, len(totals))
	for app, secs := range totals {
		pct := 0.0
		if total > 0 {
			pct = round3(secs / total * 100)
		}
		row := AppTotal{App: app, Seconds: round3(secs)}
		if activeOnly {
			row.PercentActive = &pct
		} else {
			row.PercentWindow = &pct
		}
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].App < out[j].App
	})
	return out
}

// ChunkTimeline splits [from, to) into chunks of chunkSeconds (the last one
// may be shorter) and reports per-chunk idle totals and the app with the
// most active time. Ties for top app go to the lexicographically smallest
// name.
func ChunkTimeline(from, to time.Time, segments []Segment, chunkSeconds int) []Chunk {
	if chunkSeconds <= 0 {
		return nil
	}
	step := time.Duration(chunkSeconds) * time.Second

	var out []Chunk
	segIdx := 0
	for cursor := from; cursor.Before(to); {
		chunkEnd := minTime(to, cursor.Add(step))
		var active, afk, unknown float64
		apps := make(map[string]float64)

		for segIdx < len(segments) && !segments[segIdx].End.After(cursor) {
			segIdx++
		}

		for j := segIdx; j < len(segments); j++ {
			seg := segments[j]
			if !seg.Start.Before(chunkEnd) {
				break
			}
			a := maxTime(seg.Start, cursor)
			b := minTime(seg.End, chunkEnd)
			if !b.After(a) {
				continue
			}
			d := b.Sub(a).Seconds()
			switch {
			case seg.AFK == nil:
				unknown += d
			case *seg.AFK:
				afk += d
			default:
				active += d
				if app := appName(seg.Window); countedApp(app) {
					apps[app] += d
				}
			}
		}

		out = append(out, Chunk{
			StartTS:        timefmt.Format(cursor),
			EndTS:          timefmt.Format(chunkEnd),
			ActiveSeconds:  round3(active),
			AFKSeconds:     round3(afk),
			UnknownSeconds: round3(unknown),
			TopApp:         topApp(apps),
		})
		cursor = chunkEnd
	}
	return out
}

func topApp(apps map[string]float64) *string {
	var best string
	var bestSecs float64
	found := false
	for app, secs := range apps {
		if !found || secs > bestSecs || (secs == bestSecs && app < best) {
			best, bestSecs, found = app, secs, true
		}
	}
	if !found {
		return nil
	}
	return &best
}
