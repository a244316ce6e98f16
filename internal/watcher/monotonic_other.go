//go:build !linux

package watcher

import (
	"errors"
	"time"
)

func monotonicNow() (time.Duration, error) {
	return 0, errors.New("monotonic clock not supported on this platform")
}
