package scheduler

import "time"

// Clock abstracts wall time so wait durations can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// After delivers on the returned channel once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
