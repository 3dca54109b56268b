package types

import "time"

// Clock is the time source of every scheduling decision. Services never call
// time.Now directly so tests can drive a dunning timeline.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by the wall clock, in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
