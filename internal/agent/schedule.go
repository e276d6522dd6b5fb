package agent

import (
	"time"
)

const (
	// minSleep is the floor applied to every jittered inter-cycle sleep.
	minSleep = 120 * time.Second
	// skipSleep is the pause taken when another agent holds the coordination
	// marker.
	skipSleep = 30 * time.Second
)

// withinActiveWindow reports whether hour falls inside [start, end). Both
// bounds are local-time hours.
func withinActiveWindow(hour, start, end int) bool {
	return hour >= start && hour < end
}

// calculateSleep scatters the base interval by a uniform factor in
// [0.7, 1.3] and clamps the result to minSleep. rnd must return a value in
// [0, 1).
func calculateSleep(base time.Duration, rnd func() float64) time.Duration {
	factor := 0.7 + 0.6*rnd()
	d := time.Duration(float64(base) * factor)
	if d < minSleep {
		d = minSleep
	}
	return d
}

// untilHour returns the duration from now until the next occurrence of the
// given local hour, crossing midnight when necessary.
func untilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
