// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a new UTC Clock.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewLocal creates a Clock in the host's local time zone. "Today" for the
// newsfeed window and job timestamps are meant in the user's zone.
func NewLocal() *Clock {
	return &Clock{loc: time.Local}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

// Fixed is a clock stuck at one instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }
