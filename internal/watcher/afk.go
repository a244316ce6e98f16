package watcher

import "time"

// SessionProps are the logind session properties that drive the AFK
// decision.
type SessionProps struct {
	LockedHint bool
	IdleHint   bool

	// IdleSinceHint is wall-clock microseconds since the epoch. Zero means
	// unknown.
	IdleSinceHint uint64

	// IdleSinceHintMonotonic is CLOCK_MONOTONIC microseconds. It is only
	// consulted when HasMonotonic is set.
	IdleSinceHintMonotonic uint64
	HasMonotonic           bool
}

// Decision is the outcome of ComputeAFK.
type Decision struct {
	AFK bool

	// Transition is when the current state began. Zero means now.
	Transition time.Time
}

// ComputeAFK decides whether the session is away from keyboard.
//
// A running lock process or LockedHint means AFK as of now. Without IdleHint
// the user is active. Otherwise the idle duration is taken from the
// wall-clock hint, falling back to the monotonic one, and compared against
// threshold. A wall-clock hint lets the transition be backdated to
// since+threshold, which covers suspend gaps.
func ComputeAFK(p SessionProps, threshold time.Duration, forceAFK bool, now time.Time, monotonicNow time.Duration) Decision {
	if forceAFK || p.LockedHint {
		return Decision{AFK: true, Transition: now}
	}
	if !p.IdleHint {
		return Decision{}
	}

	threshold = max(0, threshold)

	if p.IdleSinceHint > 0 {
		since := time.UnixMicro(int64(p.IdleSinceHint)).UTC()
		idle := max(0, now.Sub(since))
		if idle < threshold {
			return Decision{}
		}
		transition := since.Add(threshold)
		if transition.After(now) {
			transition = now
		}
		return Decision{AFK: true, Transition: transition}
	}

	if p.HasMonotonic {
		since := time.Duration(p.IdleSinceHintMonotonic) * time.Microsecond
		idle := max(0, monotonicNow-since)
		if idle < threshold {
			return Decision{}
		}
		return Decision{AFK: true, Transition: now}
	}

	// IdleHint with no usable timestamp.
	return Decision{AFK: true, Transition: now}
}
