// Package system provides the wall clock used for job timestamps.
package system

import "time"

// Precision is the resolution job timestamps are kept at. It matches
// timestamptz, so a job read back from the store compares equal to the one
// that was written.
const Precision = time.Microsecond

// Clock implements crawler.Clock on the host's wall clock, in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
