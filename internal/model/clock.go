package model

import "time"

// Clock supplies wall-clock time to components that stamp records.
// Tests substitute testutil.ManualClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now truncated to milliseconds, the resolution
// every store persists.
type SystemClock struct{}

// Now returns the current time at millisecond resolution.
func (SystemClock) Now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}
