//go:build !unix

package store

import "errors"

// ErrLocked is returned when another process holds the database lock.
var ErrLocked = errors.New("database is in use by another process")

type fileLock struct{}

// acquireLock is a no-op on platforms without flock.
func acquireLock(string) (*fileLock, error) {
	return &fileLock{}, nil
}

func (l *fileLock) release() {}
