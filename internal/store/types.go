// Package store provides SQLite-based interval storage for activewatcher.
package store

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Interval is one row of the events table.
//
// A row with a nil EndTS is the open interval for its (Bucket, Source) key.
// At most one such row exists per key.
type Interval struct {
	ID         int64
	Bucket     string
	Source     string
	StartTS    time.Time
	EndTS      *time.Time
	LastSeenTS time.Time
	DataJSON   string
	DataHash   string
}

// IsOpen reports whether the interval has not been closed yet.
func (i *Interval) IsOpen() bool {
	return i.EndTS == nil
}

// Filter restricts queries to an exact bucket and/or source.
// Empty fields match everything.
type Filter struct {
	Bucket string
	Source string
}

// Stats summarizes table contents.
type Stats struct {
	Rows int64 `json:"rows"`
	Open int64 `json:"open"`
}

// HashData returns the content hash stored alongside a canonical data payload.
func HashData(dataJSON string) string {
	sum := blake2b.Sum256([]byte(dataJSON))
	return hex.EncodeToString(sum[:])
}
