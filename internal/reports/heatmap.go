package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"activewatcher/internal/store"
	"activewatcher/internal/timefmt"
)

var (
	// ErrInvalidTimezone is returned for unknown IANA zone names.
	ErrInvalidTimezone = errors.New("unknown timezone")

	// ErrInvalidMode is returned for heatmap modes other than auto, active
	// and window.
	ErrInvalidMode = errors.New(`mode must be one of: "auto", "active", "window"`)
)

// Heatmap modes.
const (
	ModeAuto   = "auto"
	ModeActive = "active"
	ModeWindow = "window"
)

const dateLayout = "2006-01-02"

// LoadTimezone resolves an IANA zone name. Empty and "UTC" map to UTC.
func LoadTimezone(name string) (*time.Location, error) {
	n := strings.TrimSpace(name)
	if n == "" || strings.EqualFold(n, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimezone, n)
	}
	return loc, nil
}

// ParseMode normalizes a heatmap mode; empty means auto.
func ParseMode(mode string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeActive, ModeWindow:
		return m, nil
	default:
		return "", ErrInvalidMode
	}
}

// DayTotal is the seconds attributed to one local calendar day.
type DayTotal struct {
	Date    string  `json:"date"`
	Seconds float64 `json:"seconds"`
}

// DailyTotals accumulates seconds per local calendar day.
type DailyTotals struct {
	loc  *time.Location
	days map[string]float64
}

// NewDailyTotals creates an accumulator for loc.
func NewDailyTotals(loc *time.Location) *DailyTotals {
	return &DailyTotals{loc: loc, days: make(map[string]float64)}
}

// Add distributes [start, end) across the local days it touches.
func (d *DailyTotals) Add(start, end time.Time) {
	if !end.After(start) {
		return
	}
	cur := start.In(d.loc)
	endLocal := end.In(d.loc)
	for {
		y, m, day := cur.Date()
		key := cur.Format(dateLayout)
		nextMidnight := time.Date(y, m, day+1, 0, 0, 0, 0, d.loc)
		if !nextMidnight.Before(endLocal) {
			d.days[key] += seconds(cur, endLocal)
			return
		}
		d.days[key] += seconds(cur, nextMidnight)
		cur = nextMidnight
	}
}

// Get returns the total for a date in YYYY-MM-DD form.
func (d *DailyTotals) Get(date string) float64 {
	return d.days[date]
}

// HeatmapQuery selects what Heatmap aggregates.
type HeatmapQuery struct {
	From time.Time
	To   time.Time
	TZ   string
	Mode string
	Apps []string
}

// HeatmapResult is the per-day aggregate for a range.
type HeatmapResult struct {
	FromTS     string     `json:"from_ts"`
	ToTS       string     `json:"to_ts"`
	FromDate   string     `json:"from_date"`
	ToDate     string     `json:"to_date"`
	TZ         string     `json:"tz"`
	Mode       string     `json:"mode"`
	HasIdle    bool       `json:"has_idle"`
	Apps       []string   `json:"apps"`
	MaxSeconds float64    `json:"max_seconds"`
	Days       []DayTotal `json:"days"`
}

// HeatmapTotals computes per-day seconds from window intervals, either raw
// (window mode) or intersected with non-AFK idle intervals (active mode).
// Apps outside filter are skipped when filter is non-nil.
func HeatmapTotals(loc *time.Location, mode string, window, idle []Interval, filter map[string]bool) *DailyTotals {
	totals := NewDailyTotals(loc)

	include := func(it Interval) bool {
		app := appName(it.Data)
		if !countedApp(app) {
			return false
		}
		return filter == nil || filter[app]
	}

	if mode == ModeWindow {
		for _, it := range window {
			if include(it) {
				totals.Add(it.Start, it.End)
			}
		}
		return totals
	}

	var active []Interval
	for _, it := range sortedByStart(idle) {
		if v, ok := it.Data["afk"].(bool); ok && !v {
			active = append(active, it)
		}
	}

	aIdx := 0
	for _, w := range sortedByStart(window) {
		if !include(w) {
			continue
		}
		for aIdx < len(active) && !active[aIdx].End.After(w.Start) {
			aIdx++
		}
		j := aIdx
		for j < len(active) && active[j].Start.Before(w.End) {
			a := active[j]
			totals.Add(maxTime(w.Start, a.Start), minTime(w.End, a.End))
			if a.End.After(w.End) {
				break
			}
			j++
		}
		aIdx = j
	}
	return totals
}

func appFilter(apps []string) map[string]bool {
	var filter map[string]bool
	for _, a := range apps {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if filter == nil {
			filter = make(map[string]bool)
		}
		filter[a] = true
	}
	return filter
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// dayRange lists every local date from from to to inclusive.
func dayRange(from, to time.Time, loc *time.Location) []string {
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	first := time.Date(fy, fm, fd, 12, 0, 0, 0, time.UTC)
	last := time.Date(ty, tm, td, 12, 0, 0, 0, time.UTC)

	var out []string
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(dateLayout))
	}
	return out
}

// Heatmap aggregates per-day seconds for q.
func (s *Service) Heatmap(ctx context.Context, q HeatmapQuery) (*HeatmapResult, error) {
	loc, err := LoadTimezone(q.TZ)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(q.Mode)
	if err != nil {
		return nil, err
	}

	from, to := orderRange(q.From, q.To)

	window, err := s.loader.Load(ctx, store.Filter{Bucket: BucketWindow}, from, to)
	if err != nil {
		return nil, err
	}
	idle, err := s.loader.Load(ctx, store.Filter{Bucket: BucketIdle}, from, to)
	if err != nil {
		return nil, err
	}

	hasIdle := len(idle) > 0
	used := ModeWindow
	if mode != ModeWindow && hasIdle {
		used = ModeActive
	}

	filter := appFilter(q.Apps)
	totals := HeatmapTotals(loc, used, window, idle, filter)

	dates := dayRange(from, to, loc)
	days := make([]DayTotal, 0, len(dates))
	var maxSeconds float64
	for _, d := range dates {
		secs := totals.Get(d)
		maxSeconds = max(maxSeconds, secs)
		days = append(days, DayTotal{Date: d, Seconds: round3(secs)})
	}

	tz := strings.TrimSpace(q.TZ)
	if tz == "" {
		tz = "UTC"
	}

	return &HeatmapResult{
		FromTS:     timefmt.Format(from),
		ToTS:       timefmt.Format(to),
		FromDate:   dates[0],
		ToDate:     dates[len(dates)-1],
		TZ:         tz,
		Mode:       used,
		HasIdle:    hasIdle,
		Apps:       sortedKeys(filter),
		MaxSeconds: round3(maxSeconds),
		Days:       days,
	}, nil
}
