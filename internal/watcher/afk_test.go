package watcher

import (
	"testing"
	"time"
)

func TestComputeAFK(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	threshold := 120 * time.Second
	micros := func(ts time.Time) uint64 { return uint64(ts.UnixMicro()) }

	tests := []struct {
		name   string
		props  SessionProps
		forced bool
		mono   time.Duration
		want   Decision
	}{
		{
			name:   "lock process forces afk",
			props:  SessionProps{},
			forced: true,
			want:   Decision{AFK: true, Transition: now},
		},
		{
			name:  "locked hint",
			props: SessionProps{LockedHint: true},
			want:  Decision{AFK: true, Transition: now},
		},
		{
			name:  "not idle",
			props: SessionProps{IdleSinceHint: micros(now.Add(-time.Hour))},
			want:  Decision{},
		},
		{
			name:  "idle below threshold",
			props: SessionProps{IdleHint: true, IdleSinceHint: micros(now.Add(-time.Minute))},
			want:  Decision{},
		},
		{
			name:  "idle past threshold is backdated",
			props: SessionProps{IdleHint: true, IdleSinceHint: micros(now.Add(-10 * time.Minute))},
			want:  Decision{AFK: true, Transition: now.Add(-8 * time.Minute)},
		},
		{
			name:  "idle exactly at threshold",
			props: SessionProps{IdleHint: true, IdleSinceHint: micros(now.Add(-threshold))},
			want:  Decision{AFK: true, Transition: now},
		},
		{
			name:  "idle since in the future",
			props: SessionProps{IdleHint: true, IdleSinceHint: micros(now.Add(time.Minute))},
			want:  Decision{},
		},
		{
			name: "monotonic past threshold",
			props: SessionProps{
				IdleHint:               true,
				IdleSinceHintMonotonic: uint64((time.Hour - 5*time.Minute) / time.Microsecond),
				HasMonotonic:           true,
			},
			mono: time.Hour,
			want: Decision{AFK: true, Transition: now},
		},
		{
			name: "monotonic below threshold",
			props: SessionProps{
				IdleHint:               true,
				IdleSinceHintMonotonic: uint64((time.Hour - time.Minute) / time.Microsecond),
				HasMonotonic:           true,
			},
			mono: time.Hour,
			want: Decision{},
		},
		{
			name:  "idle without timestamps",
			props: SessionProps{IdleHint: true},
			want:  Decision{AFK: true, Transition: now},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeAFK(tc.props, threshold, tc.forced, now, tc.mono)
			if got.AFK != tc.want.AFK {
				t.Fatalf("afk = %v, want %v", got.AFK, tc.want.AFK)
			}
			if !got.Transition.Equal(tc.want.Transition) {
				t.Errorf("transition = %v, want %v", got.Transition, tc.want.Transition)
			}
		})
	}
}

func TestComputeAFKZeroThreshold(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-3 * time.Second)
	got := ComputeAFK(SessionProps{IdleHint: true, IdleSinceHint: uint64(since.UnixMicro())}, -time.Second, false, now, 0)
	if !got.AFK || !got.Transition.Equal(since) {
		t.Errorf("got %+v, want afk at %v", got, since)
	}
}
