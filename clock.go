package dbqueue

import "time"

// Clock abstracts time so visibility and backoff can be tested deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock uses the system time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (fn ClockFunc) Now() time.Time {
	return fn()
}
