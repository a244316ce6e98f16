package reports

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"activewatcher/internal/ingest"
	"activewatcher/internal/timefmt"
)

// Segment is a maximal run of time with constant window and idle state.
// Window is nil when no window interval covers the run; AFK is nil when no
// idle interval covers it.
type Segment struct {
	Start  time.Time
	End    time.Time
	Window map[string]any
	AFK    *bool
}

// Seconds returns the segment length.
func (s Segment) Seconds() float64 {
	return seconds(s.Start, s.End)
}

type segmentJSON struct {
	StartTS string         `json:"start_ts"`
	EndTS   string         `json:"end_ts"`
	AFK     *bool          `json:"afk"`
	Window  map[string]any `json:"window"`
}

// MarshalJSON renders timestamps in the canonical layout.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		StartTS: timefmt.Format(s.Start),
		EndTS:   timefmt.Format(s.End),
		AFK:     s.AFK,
		Window:  s.Window,
	})
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (s *Segment) UnmarshalJSON(b []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	start, err := timefmt.Parse(raw.StartTS)
	if err != nil {
		return err
	}
	end, err := timefmt.Parse(raw.EndTS)
	if err != nil {
		return err
	}
	*s = Segment{Start: start, End: end, Window: raw.Window, AFK: raw.AFK}
	return nil
}

// segmentKeyFields are the window attributes that distinguish segments.
var segmentKeyFields = []string{"app", "title", "workspace", "monitor", "xwayland", "no_focus"}

func sameState(a, b Segment) bool {
	if (a.AFK == nil) != (b.AFK == nil) {
		return false
	}
	if a.AFK != nil && *a.AFK != *b.AFK {
		return false
	}
	for _, k := range segmentKeyFields {
		if !reflect.DeepEqual(ingest.NormalizeValue(a.Window[k]), ingest.NormalizeValue(b.Window[k])) {
			return false
		}
	}
	return true
}

// BuildTimeline merges window and idle intervals into a gapless sequence of
// segments covering [from, to]. Each elementary span between consecutive
// boundaries takes the window and idle state in effect at its start, and
// adjacent spans with equal state are merged.
func BuildTimeline(from, to time.Time, window, idle []Interval) []Segment {
	boundaries := make([]time.Time, 0, 2+2*(len(window)+len(idle)))
	boundaries = append(boundaries, from, to)
	for _, it := range window {
		boundaries = append(boundaries, it.Start, it.End)
	}
	for _, it := range idle {
		boundaries = append(boundaries, it.Start, it.End)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].Before(boundaries[j]) })

	window = sortedByStart(window)
	idle = sortedByStart(idle)

	var segments []Segment
	wIdx, iIdx := 0, 0
	for k := 0; k+1 < len(boundaries); k++ {
		a, b := boundaries[k], boundaries[k+1]
		if !b.After(a) {
			continue
		}

		for wIdx < len(window) && !window[wIdx].End.After(a) {
			wIdx++
		}
		var win map[string]any
		if wIdx < len(window) && covers(window[wIdx], a) {
			win = window[wIdx].Data
		}

		for iIdx < len(idle) && !idle[iIdx].End.After(a) {
			iIdx++
		}
		var afk *bool
		if iIdx < len(idle) && covers(idle[iIdx], a) {
			v := truthy(idle[iIdx].Data["afk"])
			afk = &v
		}

		segments = append(segments, Segment{Start: a, End: b, Window: win, AFK: afk})
	}

	if len(segments) == 0 {
		return nil
	}

	merged := []Segment{segments[0]}
	for _, seg := range segments[1:] {
		prev := &merged[len(merged)-1]
		if prev.End.Equal(seg.Start) && sameState(*prev, seg) {
			prev.End = seg.End
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

func covers(it Interval, t time.Time) bool {
	return !it.Start.After(t) && t.Before(it.End)
}

func sortedByStart(in []Interval) []Interval {
	out := make([]Interval, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
