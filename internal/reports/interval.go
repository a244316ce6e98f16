// Package reports turns stored intervals into clipped interval lists,
// merged window/idle timelines, and aggregate views.
package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"activewatcher/internal/timefmt"
)

// Buckets read by the aggregate views.
const (
	BucketWindow = "window"
	BucketIdle   = "idle"
)

// Interval is a stored interval clipped to a query window.
type Interval struct {
	ID     int64
	Bucket string
	Source string
	Start  time.Time
	End    time.Time
	Data   map[string]any
}

// Seconds returns the interval length.
func (i Interval) Seconds() float64 {
	return seconds(i.Start, i.End)
}

type intervalJSON struct {
	ID      int64          `json:"id"`
	Bucket  string         `json:"bucket"`
	Source  string         `json:"source"`
	StartTS string         `json:"start_ts"`
	EndTS   string         `json:"end_ts"`
	Data    map[string]any `json:"data"`
}

// MarshalJSON renders timestamps in the canonical layout.
func (i Interval) MarshalJSON() ([]byte, error) {
	data := i.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(intervalJSON{
		ID:      i.ID,
		Bucket:  i.Bucket,
		Source:  i.Source,
		StartTS: timefmt.Format(i.Start),
		EndTS:   timefmt.Format(i.End),
		Data:    data,
	})
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (i *Interval) UnmarshalJSON(b []byte) error {
	var raw intervalJSON
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
	*i = Interval{ID: raw.ID, Bucket: raw.Bucket, Source: raw.Source, Start: start, End: end, Data: raw.Data}
	return nil
}

// decodeData parses stored data. Malformed or non-object JSON yields an
// empty map.
func decodeData(s string) map[string]any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// truthy reports whether a decoded JSON value counts as true.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		return err != nil || f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	default:
		return true
	}
}

// appName returns data["app"] as a string, or "" when missing or falsy.
func appName(data map[string]any) string {
	v, ok := data["app"]
	if !ok || !truthy(v) {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// countedApp reports whether an app name participates in rankings.
// Names starting with "__" are reserved for internal markers.
func countedApp(app string) bool {
	return app != "" && !strings.HasPrefix(app, "__")
}

func seconds(a, b time.Time) float64 {
	if !b.After(a) {
		return 0
	}
	return b.Sub(a).Seconds()
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
