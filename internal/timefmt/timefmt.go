// Package timefmt defines the canonical timestamp representation used by
// activewatcher: millisecond-precision RFC3339 in UTC with a literal Z suffix.
//
// Stored timestamps use this layout so that lexical order equals
// chronological order.
package timefmt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical output layout.
const Layout = "2006-01-02T15:04:05.000Z"

// ErrMissingOffset is returned for timestamps without an explicit UTC offset.
var ErrMissingOffset = errors.New("timestamp must be timezone-aware (include offset or Z)")

// Normalize converts t to UTC and truncates it to millisecond precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Format renders t in the canonical layout.
func Format(t time.Time) string {
	return Normalize(t).Format(Layout)
}

// Parse accepts any RFC3339 timestamp with an explicit offset and returns it
// normalized to UTC milliseconds.
func Parse(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		if _, naive := time.Parse("2006-01-02T15:04:05.999999999", v); naive == nil {
			return time.Time{}, ErrMissingOffset
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return Normalize(t), nil
}

// MustParse is Parse for tests and constants; it panics on error.
func MustParse(value string) time.Time {
	t, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return t
}
