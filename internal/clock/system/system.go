// Package system reads the wall clock.
package system

import "time"

// Clock implements crawler.Clock in UTC. A positive Precision truncates each
// reading, so timestamps survive a round trip through Postgres unchanged.
type Clock struct {
	Precision time.Duration
}

// New returns a full-precision clock.
func New() *Clock {
	return &Clock{}
}

// NewWithPrecision returns a clock truncated to precision.
func NewWithPrecision(precision time.Duration) *Clock {
	return &Clock{Precision: precision}
}

// Now returns the current UTC time.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.Precision > 0 {
		now = now.Truncate(c.Precision)
	}
	return now
}
