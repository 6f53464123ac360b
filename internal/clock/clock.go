// Package clock abstracts time for the renewal state machine so billing
// date arithmetic is testable without wall-clock sleeps.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func NewSystemClock() Clock { return systemClock{} }

// AddMonths advances t by the given number of calendar months. Month
// arithmetic normalizes per time.AddDate (Jan 31 + 1 month = Mar 2/3),
// which keeps repeated advances drift-free against the stored date.
func AddMonths(t time.Time, months int) time.Time {
	return t.AddDate(0, months, 0)
}
